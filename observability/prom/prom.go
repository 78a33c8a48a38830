package prom

import (
	"net/http"

	"github.com/claude-studio/pairlink/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayObserver exports relay metrics to Prometheus.
type RelayObserver struct {
	connGauge         prometheus.Gauge
	offerGauge        prometheus.Gauge
	connOpenedTotal   prometheus.Counter
	connCloseTotal    *prometheus.CounterVec
	admissionTotal    *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesForwarded   *prometheus.CounterVec
	framesRejected    *prometheus.CounterVec
	pairingRegistered prometheus.Counter
	pairingClaimed    *prometheus.CounterVec
	pairingRevoked    prometheus.Counter
	offersSwept       prometheus.Counter
	controlRequests   prometheus.Counter
	deviceLists       prometheus.Counter
}

// NewRelayObserver registers relay metrics on the registry.
func NewRelayObserver(reg *prometheus.Registry) *RelayObserver {
	o := &RelayObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_relay_connections",
			Help: "Current websocket connection count.",
		}),
		offerGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_relay_pairing_offers",
			Help: "Current unclaimed pairing offer count.",
		}),
		connOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_connections_opened_total",
			Help: "Connections admitted past the websocket upgrade.",
		}),
		connCloseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_relay_connection_close_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_relay_admission_rejected_total",
			Help: "Connection attempts rejected before attach.",
		}, []string{"reason"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_relay_frames_received_total",
			Help: "Client frames received by type.",
		}, []string{"type"}),
		framesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_relay_frames_forwarded_total",
			Help: "Frames forwarded to a peer device by type.",
		}, []string{"type"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_relay_frames_rejected_total",
			Help: "Client frames rejected by reason.",
		}, []string{"reason"}),
		pairingRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_pairings_registered_total",
			Help: "Pairing offers registered by desktops.",
		}),
		pairingClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_relay_pairings_claimed_total",
			Help: "Pairing claim attempts by result.",
		}, []string{"result"}),
		pairingRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_pairings_revoked_total",
			Help: "Pair links torn down by a member device.",
		}),
		offersSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_pairing_offers_swept_total",
			Help: "Expired pairing offers removed by the sweeper.",
		}),
		controlRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_control_requests_total",
			Help: "Remote control requests forwarded to desktops.",
		}),
		deviceLists: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_device_lists_total",
			Help: "Device list snapshots sent to mobiles.",
		}),
	}
	reg.MustRegister(
		o.connGauge,
		o.offerGauge,
		o.connOpenedTotal,
		o.connCloseTotal,
		o.admissionTotal,
		o.framesReceived,
		o.framesForwarded,
		o.framesRejected,
		o.pairingRegistered,
		o.pairingClaimed,
		o.pairingRevoked,
		o.offersSwept,
		o.controlRequests,
		o.deviceLists,
	)
	return o
}

func (o *RelayObserver) ConnOpened() {
	o.connOpenedTotal.Inc()
}

func (o *RelayObserver) ConnClosed(reason observability.CloseReason) {
	o.connCloseTotal.WithLabelValues(string(reason)).Inc()
}

func (o *RelayObserver) ConnCount(n int64) {
	o.connGauge.Set(float64(n))
}

func (o *RelayObserver) AdmissionRejected(reason observability.AdmissionReason) {
	o.admissionTotal.WithLabelValues(string(reason)).Inc()
}

func (o *RelayObserver) FrameReceived(frameType string) {
	o.framesReceived.WithLabelValues(frameType).Inc()
}

func (o *RelayObserver) FrameForwarded(frameType string) {
	o.framesForwarded.WithLabelValues(frameType).Inc()
}

func (o *RelayObserver) FrameRejected(reason observability.RejectReason) {
	o.framesRejected.WithLabelValues(string(reason)).Inc()
}

func (o *RelayObserver) PairingRegistered() {
	o.pairingRegistered.Inc()
}

func (o *RelayObserver) PairingClaimed(result observability.ClaimResult) {
	o.pairingClaimed.WithLabelValues(string(result)).Inc()
}

func (o *RelayObserver) PairingRevoked() {
	o.pairingRevoked.Inc()
}

func (o *RelayObserver) PairingOffersSwept(n int) {
	o.offersSwept.Add(float64(n))
}

func (o *RelayObserver) OfferCount(n int) {
	o.offerGauge.Set(float64(n))
}

func (o *RelayObserver) ControlRequested() {
	o.controlRequests.Inc()
}

func (o *RelayObserver) DeviceListSent() {
	o.deviceLists.Inc()
}
