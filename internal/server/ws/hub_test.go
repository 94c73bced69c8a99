package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/store/memory"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus := memory.NewBus()
	hub := NewHub(bus, func() any { return map[string]int{"active": 3} }, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)

	status := read(t, conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	assert.Equal(t, "desk_status", status.Type)
	assert.JSONEq(t, `{"active":3}`, string(status.Data))

	// The relay subscribes asynchronously; keep publishing until one lands.
	payload, err := json.Marshal(domain.BusEvent{Type: domain.EventTradeSettled, At: time.Now().UTC()})
	require.NoError(t, err)
	got := make(chan frame, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		var f frame
		if err == nil && json.Unmarshal(data, &f) == nil {
			got <- f
		}
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case f := <-got:
			assert.Equal(t, domain.EventTradeSettled, f.Type)
			return
		case <-tick.C:
			require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, payload))
		case <-deadline:
			t.Fatal("no event relayed")
		}
	}
}

func TestClientSubscriptionChanges(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelTrades: true}}
	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTrades}})
	assert.False(t, c.isSubscribed(domain.ChannelTrades))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelSnapshots}})
	assert.True(t, c.isSubscribed(domain.ChannelSnapshots))
}
