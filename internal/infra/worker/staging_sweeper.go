package worker

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	sweepInterval = 1 * time.Hour
	stagedMaxAge  = 24 * time.Hour
)

// StagingSweeper removes staged input files the vendor no longer needs.
// Inputs are only referenced while a task is in flight, so anything older
// than a day is garbage.
type StagingSweeper struct {
	dir string
	log *zerolog.Logger
}

func NewStagingSweeper(dir string, log *zerolog.Logger) *StagingSweeper {
	return &StagingSweeper{dir: dir, log: log}
}

func (s *StagingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *StagingSweeper) sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("staging sweep read failed")
		return
	}

	cutoff := time.Now().Add(-stagedMaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("stale staged inputs swept")
	}
}
