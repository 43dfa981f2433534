package session

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/metrics"
)

// WriteCheckpoint persists the mutable progress fields of state into the
// single checkpoint row of videoID.
func WriteCheckpoint(ctx context.Context, q sqlx.ExtContext, videoID string, state *State, now time.Time) (*db.Checkpoint, error) {
	p := state.Progress
	if p == nil {
		return nil, apperr.New(apperr.ReasonNotFound, "No video is selected.")
	}
	if p.SelectedVideoID != "" && p.SelectedVideoID != videoID {
		return nil, apperr.Wrap(apperr.ReasonConflict, "The session is bound to a different video.",
			errors.New("checkpoint video mismatch"))
	}

	cp := &db.Checkpoint{
		VideoID:                videoID,
		NextScene:              p.NextSceneToGenerate,
		CurrentBatch:           p.CurrentBatchNumber,
		CharacterReferencePath: db.NullString(p.CharacterReferencePath),
		SessionCost:            p.SessionCost,
		LastUpdatedAt:          now.UTC(),
	}
	err := queries.UpsertCheckpoint(ctx, q, cp)
	metrics.CheckpointWritesTotal.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, apperr.Internal("Could not save progress.", err)
	}
	p.LastUpdatedAt = cp.LastUpdatedAt
	return cp, nil
}
