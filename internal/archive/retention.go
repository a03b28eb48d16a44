package archive

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/perchcam/perchcam/internal/logger"
)

// Retention prunes persisted stills and encoded clips older than the
// retention period. Runs as a managed background service.
type Retention struct {
	store         *Store
	clipsDir      string
	retentionDays int
	interval      time.Duration
	logger        *logger.Logger

	cancel context.CancelFunc
	doneC  chan struct{}
}

// NewRetention creates the pruning service.
func NewRetention(store *Store, clipsDir string, retentionDays int, log *logger.Logger) *Retention {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Retention{
		store:         store,
		clipsDir:      clipsDir,
		retentionDays: retentionDays,
		interval:      time.Hour,
		logger:        log.Named("retention"),
	}
}

// Name implements the managed service interface.
func (r *Retention) Name() string { return "retention" }

// Start launches the pruning loop. The first pass runs immediately.
func (r *Retention) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.doneC = make(chan struct{})

	go func() {
		defer close(r.doneC)
		r.prune(runCtx)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.prune(runCtx)
			}
		}
	}()

	r.logger.Info("Retention started", "days", r.retentionDays)
	return nil
}

// Stop halts the pruning loop.
func (r *Retention) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
		<-r.doneC
	}
	return nil
}

// prune runs one cleanup pass over the archive and the clip directory.
func (r *Retention) prune(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)

	removed, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Warn("Archive prune failed", "error", err)
	} else if removed > 0 {
		r.logger.Info("Pruned persisted frames", "count", removed)
	}

	if r.clipsDir == "" {
		return
	}
	entries, err := os.ReadDir(r.clipsDir)
	if err != nil {
		r.logger.Warn("Clip directory read failed", "error", err)
		return
	}
	clips := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.clipsDir, e.Name())); err == nil {
			clips++
		}
	}
	if clips > 0 {
		r.logger.Info("Pruned clips", "count", clips)
	}
}
