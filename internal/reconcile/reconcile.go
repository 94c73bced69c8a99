// Package reconcile derives a viewer's notification feed from the exchange
// event log, the current catalog and a locally persisted read set.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Role values on a notification.
const (
	RoleTaker = "taker"
	RoleMaker = "maker"
)

// LogSource replays contract events from a block to the head.
type LogSource interface {
	Logs(ctx context.Context, q domain.LogQuery) ([]domain.LogEntry, uint64, error)
}

// OrderLookup resolves order ids against the current catalog snapshot.
type OrderLookup interface {
	Get(id *big.Int) (domain.OrderRecord, bool)
}

// Config controls where the first scan for a viewer starts.
type Config struct {
	StartBlock uint64
}

// event is a candidate notification before catalog correlation. It is what
// the per-viewer event cache stores.
type event struct {
	OrderID   string                  `json:"order_id"`
	Kind      domain.NotificationKind `json:"kind"`
	Role      string                  `json:"role"`
	Timestamp int64                   `json:"ts"`
	TxRef     string                  `json:"tx"`
	LogIndex  uint                    `json:"log_index"`
	Block     uint64                  `json:"block"`
}

func (e event) key() string {
	return e.TxRef + ":" + strconv.FormatUint(uint64(e.LogIndex), 10) + ":" + e.Role
}

// Reconciler builds notification feeds. All storage access for a viewer is
// serialised through one mutex.
type Reconciler struct {
	logs   LogSource
	orders OrderLookup
	kv     domain.KVStore
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a Reconciler backed by kv.
func New(logs LogSource, orders OrderLookup, kv domain.KVStore, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		logs:   logs,
		orders: orders,
		kv:     kv,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

func viewerKey(prefix string, viewer common.Address) string {
	return prefix + strings.ToLower(viewer.Hex())
}

// Notifications scans the event log from the viewer's checkpoint, merges new
// events into the cached history and returns the visible feed, newest first.
func (r *Reconciler) Notifications(ctx context.Context, viewer common.Address) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.scan(ctx, viewer)
	if err != nil {
		return nil, err
	}
	seen, err := r.loadSet(ctx, viewerKey(keySeen, viewer))
	if err != nil {
		return nil, err
	}
	return r.correlate(viewer, events, seen), nil
}

// scan brings the event cache for viewer up to the chain head.
func (r *Reconciler) scan(ctx context.Context, viewer common.Address) ([]event, error) {
	cached, err := r.loadEvents(ctx, viewer)
	if err != nil {
		return nil, err
	}
	from, err := r.loadCheckpoint(ctx, viewer)
	if err != nil {
		return nil, err
	}

	fresh, head, err := r.fetch(ctx, viewer, from)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		known[e.key()] = struct{}{}
	}
	added := 0
	for _, e := range fresh {
		if _, dup := known[e.key()]; dup {
			continue
		}
		known[e.key()] = struct{}{}
		cached = append(cached, e)
		added++
	}

	if added > 0 {
		if err := r.saveJSON(ctx, viewerKey(keyEvents, viewer), cached); err != nil {
			return nil, err
		}
	}
	if next := head + 1; next > from {
		if err := r.kv.Set(ctx, viewerKey(keyCheckpoint, viewer), strconv.FormatUint(next, 10)); err != nil {
			return nil, fmt.Errorf("reconcile: save checkpoint: %w", err)
		}
	}
	r.logger.DebugContext(ctx, "event scan complete",
		slog.String("viewer", viewer.Hex()),
		slog.Uint64("from", from),
		slog.Uint64("head", head),
		slog.Int("new", added),
	)
	return cached, nil
}

// fetch reads the three event streams from block from. The returned head is
// the lowest head any stream reached so nothing is skipped next time.
func (r *Reconciler) fetch(ctx context.Context, viewer common.Address, from uint64) ([]event, uint64, error) {
	var (
		out  []event
		head uint64
		set  bool
	)
	track := func(h uint64) {
		if !set || h < head {
			head, set = h, true
		}
	}

	// Fills where the viewer was the executor.
	taken, h, err := r.logs.Logs(ctx, domain.LogQuery{Kind: domain.EventOrderExecuted, Actor: &viewer, FromBlock: from})
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile: taker fills: %w", err)
	}
	track(h)
	for _, lg := range taken {
		out = append(out, fromLog(lg, domain.NotificationFilled, RoleTaker))
	}

	// Fills by someone else. Whether the order belongs to the viewer is
	// decided in correlate, since the order may not be in the catalog yet.
	all, h, err := r.logs.Logs(ctx, domain.LogQuery{Kind: domain.EventOrderExecuted, FromBlock: from})
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile: maker fills: %w", err)
	}
	track(h)
	for _, lg := range all {
		if lg.Actor == viewer {
			continue
		}
		out = append(out, fromLog(lg, domain.NotificationFilled, RoleMaker))
	}

	updated, h, err := r.logs.Logs(ctx, domain.LogQuery{Kind: domain.EventOrderUpdated, Actor: &viewer, FromBlock: from})
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile: updates: %w", err)
	}
	track(h)
	for _, lg := range updated {
		out = append(out, fromLog(lg, domain.NotificationUpdated, RoleMaker))
	}
	return out, head, nil
}

func fromLog(lg domain.LogEntry, kind domain.NotificationKind, role string) event {
	return event{
		OrderID:   lg.OrderID.String(),
		Kind:      kind,
		Role:      role,
		Timestamp: lg.Timestamp.Unix(),
		TxRef:     lg.TxHash.Hex(),
		LogIndex:  lg.LogIndex,
		Block:     lg.BlockNumber,
	}
}

// correlate drops events whose order is gone from the catalog or displays as
// inactive, and maker fills of orders the viewer does not own. It attaches
// read state.
func (r *Reconciler) correlate(viewer common.Address, events []event, seen map[string]struct{}) []domain.Notification {
	now := r.now()
	out := make([]domain.Notification, 0, len(events))
	for _, e := range events {
		id, ok := new(big.Int).SetString(e.OrderID, 10)
		if !ok {
			continue
		}
		o, ok := r.orders.Get(id)
		if !ok || o.DisplayStatus(now) == domain.DisplayInactive {
			continue
		}
		if e.Kind == domain.NotificationFilled && e.Role == RoleMaker && o.Owner != viewer {
			continue
		}
		_, read := seen[e.TxRef]
		out = append(out, domain.Notification{
			OrderID:   id,
			Kind:      e.Kind,
			Role:      e.Role,
			Timestamp: time.Unix(e.Timestamp, 0).UTC(),
			TxRef:     e.TxRef,
			IsRead:    read,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].TxRef > out[j].TxRef
	})
	return out
}

func (r *Reconciler) loadCheckpoint(ctx context.Context, viewer common.Address) (uint64, error) {
	raw, ok, err := r.kv.Get(ctx, viewerKey(keyCheckpoint, viewer))
	if err != nil {
		return 0, fmt.Errorf("reconcile: load checkpoint: %w", err)
	}
	if !ok {
		return r.cfg.StartBlock, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		r.logger.Warn("discarding corrupt checkpoint", slog.String("viewer", viewer.Hex()))
		return r.cfg.StartBlock, nil
	}
	return n, nil
}

func (r *Reconciler) loadEvents(ctx context.Context, viewer common.Address) ([]event, error) {
	var events []event
	if err := r.loadJSON(ctx, viewerKey(keyEvents, viewer), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *Reconciler) loadJSON(ctx context.Context, key string, v any) error {
	raw, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reconcile: load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		r.logger.Warn("discarding corrupt record", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

func (r *Reconciler) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("reconcile: encode %s: %w", key, err)
	}
	if err := r.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("reconcile: save %s: %w", key, err)
	}
	return nil
}
