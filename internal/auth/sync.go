package auth

import (
	"context"
	"time"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/rs/zerolog"
)

// DirectorySync mirrors directory accounts into the store: every listed
// account is upserted and every other account is deactivated.
type DirectorySync struct {
	dir      Directory
	db       database.ChatRepository
	interval time.Duration
	log      zerolog.Logger
}

func NewDirectorySync(dir Directory, db database.ChatRepository, interval time.Duration, logger zerolog.Logger) *DirectorySync {
	return &DirectorySync{
		dir:      dir,
		db:       db,
		interval: interval,
		log:      logger.With().Str("component", "directory_sync").Logger(),
	}
}

// Run syncs immediately and then on every tick until ctx is cancelled.
func (ds *DirectorySync) Run(ctx context.Context) {
	if ds.interval <= 0 {
		return
	}

	ticker := time.NewTicker(ds.interval)
	defer ticker.Stop()

	for {
		if err := ds.SyncOnce(ctx); err != nil {
			ds.log.Error().Err(err).Msg("directory sync failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (ds *DirectorySync) SyncOnce(ctx context.Context) error {
	ids, err := ds.dir.ListUsers(ctx)
	if err != nil {
		return err
	}

	usernames := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := ds.db.UpsertDirectoryUser(ctx, UpsertParams(id)); err != nil {
			ds.log.Warn().Err(err).Str("username", id.Username).Msg("upsert directory user")
			continue
		}
		usernames = append(usernames, id.Username)
	}

	deactivated, err := ds.db.DeactivateUsersExcept(ctx, usernames)
	if err != nil {
		return err
	}

	ds.log.Info().
		Int("synced", len(usernames)).
		Int("deactivated", deactivated).
		Msg("directory sync completed")
	return nil
}

func UpsertParams(id Identity) database.UpsertUserParams {
	return database.UpsertUserParams{
		Username:   id.Username,
		Fullname:   id.Fullname,
		Email:      id.Email,
		Department: id.Department,
		Position:   id.Position,
	}
}
