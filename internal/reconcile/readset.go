package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// KV key prefixes; the viewer address is appended in lower case.
const (
	keySeen       = "seen:"
	keyLastSeen   = "lastseen:"
	keyCheckpoint = "checkpoint:"
	keyEvents     = "events:"
	keyDelivered  = "delivered:"
)

func (r *Reconciler) loadSet(ctx context.Context, key string) (map[string]struct{}, error) {
	var refs []string
	if err := r.loadJSON(ctx, key, &refs); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		set[ref] = struct{}{}
	}
	return set, nil
}

func (r *Reconciler) saveSet(ctx context.Context, key string, set map[string]struct{}) error {
	refs := make([]string, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return r.saveJSON(ctx, key, refs)
}

func (r *Reconciler) updateSeen(ctx context.Context, viewer common.Address, fn func(set map[string]struct{})) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := viewerKey(keySeen, viewer)
	set, err := r.loadSet(ctx, key)
	if err != nil {
		return err
	}
	fn(set)
	return r.saveSet(ctx, key, set)
}

// MarkRead adds txRef to the viewer's read set. Marking twice is a no-op.
func (r *Reconciler) MarkRead(ctx context.Context, viewer common.Address, txRef string) error {
	return r.updateSeen(ctx, viewer, func(set map[string]struct{}) { set[txRef] = struct{}{} })
}

// MarkUnread removes txRef from the viewer's read set.
func (r *Reconciler) MarkUnread(ctx context.Context, viewer common.Address, txRef string) error {
	return r.updateSeen(ctx, viewer, func(set map[string]struct{}) { delete(set, txRef) })
}

// ToggleRead flips txRef's read state and returns the new state.
func (r *Reconciler) ToggleRead(ctx context.Context, viewer common.Address, txRef string) (bool, error) {
	var read bool
	err := r.updateSeen(ctx, viewer, func(set map[string]struct{}) {
		if _, ok := set[txRef]; ok {
			delete(set, txRef)
			return
		}
		set[txRef] = struct{}{}
		read = true
	})
	return read, err
}

// IsRead reports whether txRef is in the viewer's read set.
func (r *Reconciler) IsRead(ctx context.Context, viewer common.Address, txRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, err := r.loadSet(ctx, viewerKey(keySeen, viewer))
	if err != nil {
		return false, err
	}
	_, ok := set[txRef]
	return ok, nil
}

// MarkAllRead marks every visible notification read and moves the viewer's
// last-seen timestamp to now.
func (r *Reconciler) MarkAllRead(ctx context.Context, viewer common.Address) error {
	feed, err := r.Notifications(ctx, viewer)
	if err != nil {
		return err
	}
	if err := r.updateSeen(ctx, viewer, func(set map[string]struct{}) {
		for _, n := range feed {
			set[n.TxRef] = struct{}{}
		}
	}); err != nil {
		return err
	}
	return r.setLastSeen(ctx, viewer, r.now())
}

// LastSeen returns when the viewer last cleared the feed; zero if never.
func (r *Reconciler) LastSeen(ctx context.Context, viewer common.Address) (time.Time, error) {
	raw, ok, err := r.kv.Get(ctx, viewerKey(keyLastSeen, viewer))
	if err != nil {
		return time.Time{}, fmt.Errorf("reconcile: load last seen: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(sec, 0).UTC(), nil
}

func (r *Reconciler) setLastSeen(ctx context.Context, viewer common.Address, at time.Time) error {
	if err := r.kv.Set(ctx, viewerKey(keyLastSeen, viewer), strconv.FormatInt(at.Unix(), 10)); err != nil {
		return fmt.Errorf("reconcile: save last seen: %w", err)
	}
	return nil
}

// UnreadCount counts unread notifications newer than the last-seen mark.
func (r *Reconciler) UnreadCount(ctx context.Context, viewer common.Address) (int, error) {
	feed, err := r.Notifications(ctx, viewer)
	if err != nil {
		return 0, err
	}
	since, err := r.LastSeen(ctx, viewer)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range feed {
		if !item.IsRead && item.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}
