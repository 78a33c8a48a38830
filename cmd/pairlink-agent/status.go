package main

import (
	"github.com/spf13/cobra"

	"github.com/claude-studio/pairlink/client"
	"github.com/claude-studio/pairlink/internal/cmdutil"
)

type statusOut struct {
	DeviceID   string                `json:"deviceId"`
	DeviceName string                `json:"deviceName"`
	StoreDir   string                `json:"storeDir"`
	Server     string                `json:"server,omitempty"`
	Sessions   int                   `json:"sessions"`
	Devices    []client.PairedDevice `json:"devices"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the local endpoint state",
		Long: `Status reads the store and prints this device's identity, the effective
relay URL (the token never leaves the store), and the paired devices. It
does not touch the network.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := resolveSettings(opts)
			if err != nil {
				return err
			}
			set.fillFromSavedRelay()
			deviceID, err := set.store.DeviceID()
			if err != nil {
				return err
			}
			sf, err := set.store.LoadSessions()
			if err != nil {
				return err
			}
			out := statusOut{
				DeviceID:   deviceID,
				DeviceName: set.deviceName,
				StoreDir:   set.store.Dir(),
				Server:     set.serverURL,
				Sessions:   len(sf.Sessions),
				Devices:    sf.Devices,
			}
			if out.Devices == nil {
				out.Devices = []client.PairedDevice{}
			}
			return cmdutil.WriteJSON(opts.stdout, out, pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}
