package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFilterAndFanOut(t *testing.T) {
	ok := &captureSender{name: "ok"}
	bad := &captureSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{ok, bad}, []string{"filled"}, nil, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "updated", "t", "m"))
	assert.Empty(t, ok.titles)

	err := n.Notify(ctx, "filled", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 senders failed")
	assert.Equal(t, []string{"t"}, ok.titles)
	assert.Equal(t, []string{"t"}, bad.titles)
}

func TestFormat(t *testing.T) {
	viewer := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	item := domain.Notification{
		OrderID:   big.NewInt(42),
		Kind:      domain.NotificationFilled,
		Role:      "maker",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		TxRef:     "0xdead",
	}
	title, msg := Format(viewer, item)
	assert.Equal(t, "Order #42 was filled", title)
	assert.Contains(t, msg, "0x1234…5678")
	assert.Contains(t, msg, "0xdead")

	item.Role = "taker"
	title, _ = Format(viewer, item)
	assert.Equal(t, "You filled order #42", title)

	item.Kind = domain.NotificationUpdated
	title, _ = Format(viewer, item)
	assert.Equal(t, "Order #42 updated", title)
}

func TestTelegramSender(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "99").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "Body"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "99", body["chat_id"])
	assert.Equal(t, "*Title*\nBody", body["text"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "rate limited")
}
