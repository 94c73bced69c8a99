package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "snapshots")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "trades", []byte(`{"type":"trade_settled"}`)))

	for _, ch := range []<-chan []byte{a, c} {
		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"type":"trade_settled"}`, string(msg))
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
	select {
	case <-other:
		t.Fatal("message leaked to another channel")
	default:
	}
}

func TestBusSubscriptionClosesOnCancel(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "trades")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.NoError(t, b.Publish(context.Background(), "trades", []byte("x")))
}

func TestBusRecentNewestFirst(t *testing.T) {
	b := NewBus()
	ctx := context.Background()
	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, b.Publish(ctx, "trades", []byte(p)))
	}

	got, err := b.Recent(ctx, "trades", 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("3"), []byte("2")}, got)

	all, err := b.Recent(ctx, "trades", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := b.Recent(ctx, "snapshots", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
