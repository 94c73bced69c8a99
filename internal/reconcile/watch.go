package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// DeliverFunc pushes one new notification for viewer to an outside channel.
type DeliverFunc func(ctx context.Context, viewer common.Address, n domain.Notification) error

// Watch polls the feed of every viewer each interval and delivers
// notifications not delivered before. Delivered tx refs are persisted, so a
// restart does not resend. Blocks until ctx is cancelled.
func (r *Reconciler) Watch(ctx context.Context, viewers []common.Address, interval time.Duration, deliver DeliverFunc) error {
	if len(viewers) == 0 {
		r.logger.InfoContext(ctx, "no viewers to watch")
		<-ctx.Done()
		return ctx.Err()
	}
	r.logger.InfoContext(ctx, "notification watcher started", slog.Int("viewers", len(viewers)))
	defer r.logger.Info("notification watcher stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, v := range viewers {
			r.deliverNew(ctx, v, deliver)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) deliverNew(ctx context.Context, viewer common.Address, deliver DeliverFunc) {
	log := r.logger.With(slog.String("viewer", viewer.Hex()))

	feed, err := r.Notifications(ctx, viewer)
	if err != nil {
		log.WarnContext(ctx, "notification scan failed", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := viewerKey(keyDelivered, viewer)
	delivered, err := r.loadSet(ctx, key)
	if err != nil {
		log.WarnContext(ctx, "load delivered set failed", slog.String("error", err.Error()))
		return
	}

	sent := 0
	// Oldest first so channels read chronologically.
	for i := len(feed) - 1; i >= 0; i-- {
		n := feed[i]
		if n.IsRead {
			continue
		}
		if _, ok := delivered[n.TxRef]; ok {
			continue
		}
		if err := deliver(ctx, viewer, n); err != nil {
			log.WarnContext(ctx, "notification delivery failed",
				slog.String("tx", n.TxRef),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered[n.TxRef] = struct{}{}
		sent++
	}
	if sent == 0 {
		return
	}
	if err := r.saveSet(ctx, key, delivered); err != nil {
		log.WarnContext(ctx, "save delivered set failed", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "notifications delivered", slog.Int("count", sent))
}
