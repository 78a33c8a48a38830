package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newWSServer starts an httptest server that upgrades /ws and echoes text
// frames. /ws?mode=binary instead sends a single binary frame after upgrade.
func newWSServer(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, UpgraderOptions{})
		if err != nil {
			return
		}
		defer c.Close()
		ctx := context.Background()
		if r.URL.Query().Get("mode") == "binary" {
			_ = c.WriteMessage(ctx, websocket.BinaryMessage, []byte{0x01, 0x02})
			return
		}
		for {
			b, err := c.ReadText(ctx)
			if err != nil {
				return
			}
			if err := c.WriteText(ctx, b); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestTextRoundTrip(t *testing.T) {
	url := newWSServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := Dial(ctx, url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteText(ctx, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := c.ReadText(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != `{"type":"heartbeat"}` {
		t.Fatalf("echo mismatch: %q", b)
	}
}

func TestReadTextRejectsBinaryFrame(t *testing.T) {
	url := newWSServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := Dial(ctx, url+"?mode=binary", DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, err := c.ReadText(ctx); !errors.Is(err, ErrNonTextFrame) {
		t.Fatalf("expected ErrNonTextFrame, got %v", err)
	}
}

func TestReadMessageContextCancel(t *testing.T) {
	url := newWSServer(t)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	c, _, err := Dial(dialCtx, url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, _, err = c.ReadMessage(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("read did not unblock promptly, took %v", elapsed)
	}
}

func TestReadMessageContextDeadline(t *testing.T) {
	url := newWSServer(t)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	c, _, err := Dial(dialCtx, url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := c.ReadMessage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
