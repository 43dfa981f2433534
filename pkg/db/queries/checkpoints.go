package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/db"
	log "github.com/sirupsen/logrus"
)

// UpsertCheckpoint writes the single checkpoint row of a video, replacing any
// previous values.
func UpsertCheckpoint(ctx context.Context, q sqlx.ExtContext, cp *db.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (video_id, next_scene, current_batch, character_reference_path, session_cost, last_updated_at)
		VALUES (:video_id, :next_scene, :current_batch, :character_reference_path, :session_cost, :last_updated_at)
		ON CONFLICT (video_id) DO UPDATE SET
			next_scene = excluded.next_scene,
			current_batch = excluded.current_batch,
			character_reference_path = excluded.character_reference_path,
			session_cost = excluded.session_cost,
			last_updated_at = excluded.last_updated_at`
	if _, err := sqlx.NamedExecContext(ctx, q, query, cp); err != nil {
		log.Errorf("Error writing checkpoint for video '%s': %v", cp.VideoID, err)
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	log.Debugf("Checkpoint written for video %s: next_scene=%d batch=%d", cp.VideoID, cp.NextScene, cp.CurrentBatch)
	return nil
}

// FindCheckpoint returns the checkpoint of a video, or nil, nil if it was
// never checkpointed.
func FindCheckpoint(ctx context.Context, q sqlx.ExtContext, videoID string) (*db.Checkpoint, error) {
	cp := &db.Checkpoint{}
	query := q.Rebind(`
		SELECT video_id, next_scene, current_batch, character_reference_path, session_cost, last_updated_at
		FROM checkpoints WHERE video_id = ?`)
	if err := sqlx.GetContext(ctx, q, cp, query, videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("No checkpoint for video '%s'.", videoID)
			return nil, nil
		}
		log.Errorf("Error loading checkpoint for video '%s': %v", videoID, err)
		return nil, fmt.Errorf("find checkpoint: %w", err)
	}
	return cp, nil
}
