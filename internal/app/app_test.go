package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/otcdesk/internal/config"
	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/store/memory"
)

func TestValuationConfig(t *testing.T) {
	token := "0x00000000000000000000000000000000000000b1"
	backing := "0x00000000000000000000000000000000000000b2"
	cfg, err := valuationConfig(config.ValuationConfig{
		StablePegs:  []string{"0x00000000000000000000000000000000000000a1"},
		NativeAlias: "0x00000000000000000000000000000000000000c1",
		Backing:     []config.BackingConfig{{Token: token, BackingToken: backing, PerToken: "0.5"}},
	})
	require.NoError(t, err)

	require.Len(t, cfg.StablePegs, 1)
	assert.Equal(t, common.HexToAddress("0xc1"), cfg.NativeAlias)
	ref, ok := cfg.Backing[common.HexToAddress(token)]
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(backing), ref.BackingToken)
	assert.True(t, ref.PerToken.Equal(decimal.RequireFromString("0.5")))
}

func TestValuationConfigRejectsBadBacking(t *testing.T) {
	_, err := valuationConfig(config.ValuationConfig{
		Backing: []config.BackingConfig{{Token: "0x01", BackingToken: "0x02", PerToken: "abc"}},
	})
	assert.Error(t, err)

	_, err = valuationConfig(config.ValuationConfig{
		Backing: []config.BackingConfig{{Token: "0x01", BackingToken: "0x02", PerToken: "0"}},
	})
	assert.ErrorContains(t, err, "must be positive")
}

func TestChangeTrackerOnlyReturnsMovedOrders(t *testing.T) {
	order := func(id, updated int64) domain.OrderRecord {
		return domain.OrderRecord{OrderID: big.NewInt(id), LastUpdateTime: updated}
	}
	tr := &changeTracker{}

	first := tr.changed(&domain.CatalogSnapshot{Orders: map[string]domain.OrderRecord{
		"1": order(1, 100),
		"2": order(2, 100),
	}})
	assert.Len(t, first, 2)

	second := tr.changed(&domain.CatalogSnapshot{Orders: map[string]domain.OrderRecord{
		"1": order(1, 100),
		"2": order(2, 150),
		"3": order(3, 150),
	}})
	ids := make([]string, 0, len(second))
	for _, o := range second {
		ids = append(ids, o.OrderID.String())
	}
	assert.ElementsMatch(t, []string{"2", "3"}, ids)

	assert.Empty(t, tr.changed(&domain.CatalogSnapshot{Orders: map[string]domain.OrderRecord{
		"1": order(1, 100),
	}}))
}

func TestPublishWrapsEvent(t *testing.T) {
	bus := memory.NewBus()
	publish(context.Background(), bus, domain.ChannelSnapshots, domain.EventSnapshotRefreshed,
		map[string]int{"orders": 3}, slog.Default())

	events, err := bus.Recent(context.Background(), domain.ChannelSnapshots, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[0], &ev))
	assert.Equal(t, domain.EventSnapshotRefreshed, ev.Type)
	assert.JSONEq(t, `{"orders":3}`, string(ev.Data))
}

func TestViewerAddressesTrims(t *testing.T) {
	got := viewerAddresses([]string{" 0x00000000000000000000000000000000000000d1 "})
	require.Len(t, got, 1)
	assert.Equal(t, common.HexToAddress("0xd1"), got[0])
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(nil))
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ignoreCanceled(ctx.Err()), context.DeadlineExceeded)
}
