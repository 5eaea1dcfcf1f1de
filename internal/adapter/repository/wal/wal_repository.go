// Package wal is a segmented, file-based write-ahead log that holds alert
// feed entries while Redis is unreachable.
//
// Segments are append-only NDJSON files named by a sequence number. Replay
// seals the segment being written, so writes that arrive while a replay is in
// flight land in a newer segment, and Truncate removes only the segments the
// last successful replay covered.
package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

const (
	segmentPrefix = "segment-"
	segmentSuffix = ".log"
	filePerm      = 0644

	// maxLineSize bounds a single WAL entry during replay.
	maxLineSize = 4 << 20
)

// ErrFull is returned when a write would exceed the configured disk budget.
var ErrFull = errors.New("wal: max total size exceeded")

type segment struct {
	seq  uint64
	path string
	size int64
}

// WALRepository implements domain.WALRepository.
type WALRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu       sync.Mutex
	sealed   []segment // oldest first
	active   *os.File
	activeSz int64
	nextSeq  uint64
	replayed []segment // covered by the last successful Replay
}

// NewWALRepository opens (or creates) the WAL in dir. Segments left by a
// previous process are sealed and wait for the next replay.
func NewWALRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	w := &WALRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal_repository"),
		sealed:         segments,
		nextSeq:        1,
	}
	if n := len(segments); n > 0 {
		w.nextSeq = segments[n-1].seq + 1
		w.logger.Info("Found WAL segments from a previous run", "segments", n, "total_size", w.sizeLocked())
	}
	return w, nil
}

// Write appends an alert to the active segment and syncs it to disk.
func (w *WALRepository) Write(ctx context.Context, alert domain.AlertMessage) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert for WAL: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if total := w.sizeLocked() + int64(len(data)); total > w.maxTotalSize {
		return fmt.Errorf("%w (%d > %d)", ErrFull, total, w.maxTotalSize)
	}
	if w.active == nil {
		if err := w.openActive(); err != nil {
			return err
		}
	}

	n, err := w.active.Write(data)
	w.activeSz += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to WAL segment: %w", err)
	}
	if err := w.active.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL segment: %w", err)
	}

	if w.activeSz >= w.maxSegmentSize {
		w.sealActive()
	}
	return nil
}

// Replay seals the active segment and hands every sealed alert to handler,
// oldest first. The lock is not held while handler runs, so concurrent
// writes keep going to a new segment. Replay stops at the first handler
// error; a later Replay starts over from the oldest segment.
func (w *WALRepository) Replay(ctx context.Context, handler func(alert domain.AlertMessage) error) error {
	w.mu.Lock()
	w.sealActive()
	batch := slices.Clone(w.sealed)
	w.replayed = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		w.logger.Info("WAL is empty, nothing to replay")
		return nil
	}
	w.logger.Info("Starting WAL replay", "segment_count", len(batch))

	replayed := 0
	for _, seg := range batch {
		n, err := replaySegment(ctx, seg.path, handler, w.logger)
		replayed += n
		if err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.replayed = batch
	w.mu.Unlock()
	w.logger.Info("WAL replay completed", "alerts", replayed)
	return nil
}

func replaySegment(ctx context.Context, path string, handler func(domain.AlertMessage) error, logger *slog.Logger) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		var alert domain.AlertMessage
		if err := json.Unmarshal(scanner.Bytes(), &alert); err != nil {
			logger.Warn("Skipping corrupt WAL entry", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(alert); err != nil {
			logger.Error("WAL replay handler failed, stopping replay", "error", err)
			return replayed, fmt.Errorf("replay handler failed: %w", err)
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return replayed, nil
}

// Truncate removes the segments covered by the last successful Replay.
// Without one it discards the whole WAL.
func (w *WALRepository) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	drop := w.replayed
	if drop == nil {
		w.sealActive()
		drop = w.sealed
	}
	w.replayed = nil

	var errs []error
	remove := make(map[uint64]bool, len(drop))
	for _, seg := range drop {
		if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", seg.path, err))
			continue
		}
		remove[seg.seq] = true
	}
	w.sealed = slices.DeleteFunc(w.sealed, func(s segment) bool { return remove[s.seq] })

	w.logger.Info("WAL truncated", "segments", len(remove), "remaining", len(w.sealed))
	return errors.Join(errs...)
}

// Size returns the number of bytes currently held on disk.
func (w *WALRepository) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sizeLocked()
}

// Close syncs and closes the active segment.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil
	}
	err := errors.Join(w.active.Sync(), w.active.Close())
	w.sealed = append(w.sealed, segment{seq: w.nextSeq - 1, path: w.active.Name(), size: w.activeSz})
	w.active, w.activeSz = nil, 0
	return err
}

func (w *WALRepository) sizeLocked() int64 {
	total := w.activeSz
	for _, s := range w.sealed {
		total += s.size
	}
	return total
}

func (w *WALRepository) openActive() error {
	path := filepath.Join(w.dir, segmentName(w.nextSeq))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create WAL segment %s: %w", path, err)
	}
	w.nextSeq++
	w.active, w.activeSz = f, 0
	w.logger.Debug("Opened WAL segment", "path", path)
	return nil
}

// sealActive closes the active segment; the next write opens a new one.
func (w *WALRepository) sealActive() {
	if w.active == nil {
		return
	}
	if err := w.active.Close(); err != nil {
		w.logger.Error("Failed to close WAL segment", "path", w.active.Name(), "error", err)
	}
	w.sealed = append(w.sealed, segment{seq: w.nextSeq - 1, path: w.active.Name(), size: w.activeSz})
	w.active, w.activeSz = nil, 0
}

func segmentName(seq uint64) string {
	return fmt.Sprintf("%s%020d%s", segmentPrefix, seq, segmentSuffix)
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), 10, 64)
	return seq, err == nil
}

func listSegments(dir string) ([]segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}
	var segments []segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := parseSegmentName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat WAL segment %s: %w", entry.Name(), err)
		}
		segments = append(segments, segment{seq: seq, path: filepath.Join(dir, entry.Name()), size: info.Size()})
	}
	slices.SortFunc(segments, func(a, b segment) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return segments, nil
}
