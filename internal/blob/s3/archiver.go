package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// LatestPath always holds the most recent archived snapshot.
const LatestPath = "snapshots/latest.json.gz"

const contentType = "application/gzip"

// snapshotFile is the archived form of a CatalogSnapshot.
type snapshotFile struct {
	Counter   string               `json:"counter"`
	FetchedAt time.Time            `json:"fetched_at"`
	Partial   bool                 `json:"partial"`
	FailedIDs []string             `json:"failed_ids,omitempty"`
	Orders    []domain.OrderRecord `json:"orders"`
}

// SnapshotArchiver writes catalog snapshots as gzip JSON: one dated object
// per archive plus LatestPath for warm starts.
type SnapshotArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewSnapshotArchiver creates an archiver. reader may be nil if Latest is
// never called.
func NewSnapshotArchiver(writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "snapshot_archiver")),
	}
}

// SnapshotPath is the dated object key for snap.
func SnapshotPath(snap *domain.CatalogSnapshot) string {
	at := snap.FetchedAt.UTC()
	return fmt.Sprintf("snapshots/%s/%d-%s.json.gz", at.Format("2006/01/02"), at.Unix(), snap.Counter)
}

// Archive uploads snap and returns the dated path.
func (a *SnapshotArchiver) Archive(ctx context.Context, snap *domain.CatalogSnapshot) (string, error) {
	if snap == nil {
		return "", errors.New("s3blob: archive nil snapshot")
	}
	body, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	path := SnapshotPath(snap)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), contentType); err != nil {
		return "", err
	}
	if err := a.writer.Put(ctx, LatestPath, bytes.NewReader(body), contentType); err != nil {
		return "", err
	}
	a.logger.InfoContext(ctx, "snapshot archived",
		slog.String("path", path),
		slog.Int("orders", len(snap.Orders)),
		slog.Int("bytes", len(body)),
	)
	return path, nil
}

// Latest loads the snapshot at LatestPath. It returns domain.ErrNotFound
// when nothing has been archived yet.
func (a *SnapshotArchiver) Latest(ctx context.Context) (*domain.CatalogSnapshot, error) {
	if a.reader == nil {
		return nil, domain.ErrNotFound
	}
	rc, err := a.reader.Get(ctx, LatestPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	zr, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: open latest snapshot: %w", err)
	}
	defer zr.Close()

	var f snapshotFile
	if err := json.NewDecoder(zr).Decode(&f); err != nil {
		return nil, fmt.Errorf("s3blob: decode latest snapshot: %w", err)
	}
	return decodeSnapshot(f)
}

func encodeSnapshot(snap *domain.CatalogSnapshot) ([]byte, error) {
	f := snapshotFile{
		FetchedAt: snap.FetchedAt,
		Partial:   snap.Partial,
		FailedIDs: snap.FailedIDs,
		Orders:    snap.List(),
	}
	if snap.Counter != nil {
		f.Counter = snap.Counter.String()
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(f); err != nil {
		return nil, fmt.Errorf("s3blob: encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("s3blob: compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(f snapshotFile) (*domain.CatalogSnapshot, error) {
	counter, ok := new(big.Int).SetString(f.Counter, 10)
	if !ok {
		return nil, fmt.Errorf("s3blob: bad snapshot counter %q", f.Counter)
	}
	snap := &domain.CatalogSnapshot{
		Orders:    make(map[string]domain.OrderRecord, len(f.Orders)),
		Counter:   counter,
		FetchedAt: f.FetchedAt,
		Partial:   f.Partial,
		FailedIDs: f.FailedIDs,
	}
	for _, o := range f.Orders {
		if o.OrderID == nil {
			continue
		}
		snap.Orders[o.Key()] = o
	}
	snap.Classify()
	return snap, nil
}
