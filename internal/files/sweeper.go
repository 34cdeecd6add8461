package files

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/rs/zerolog"
)

type blobRemover interface {
	Remove(stored string) error
}

// Sweeper deletes attachments older than the retention period, blob first
// and then the row.
type Sweeper struct {
	db        database.ChatRepository
	store     blobRemover
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewSweeper(db database.ChatRepository, store *DiskStore, retention, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		db:        db,
		store:     store,
		retention: retention,
		interval:  interval,
		log:       logger,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A non-positive retention or interval disables sweeping.
func (s *Sweeper) Run(ctx context.Context) {
	if s.retention <= 0 || s.interval <= 0 {
		s.log.Info().Msg("file retention sweep disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("sweep files")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce returns how many files were removed. A file whose blob cannot
// be removed keeps its row so the next sweep retries it.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	expired, err := s.db.ListFilesOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range expired {
		if err := s.store.Remove(f.StoredName); err != nil {
			s.log.Warn().Err(err).Int("file_id", f.Id).Msg("remove blob")
			continue
		}

		if err := s.db.DeleteFile(ctx, f.Id); err != nil && !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Err(err).Int("file_id", f.Id).Msg("delete file row")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("expired files removed")
	}
	return removed, nil
}
