package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/db"
	log "github.com/sirupsen/logrus"
)

// CreateScenes inserts a scene breakdown for a video. Scene numbers must be
// dense and 1-based; callers pass them in order. Run it inside a transaction
// so a partial breakdown never survives.
func CreateScenes(ctx context.Context, q sqlx.ExtContext, videoID string, scenes []db.Scene) ([]db.Scene, error) {
	query := `
		INSERT INTO scenes (scene_id, video_id, scene_number, visual_description, voiceover, created_at)
		VALUES (:scene_id, :video_id, :scene_number, :visual_description, :voiceover, :created_at)`

	now := time.Now().UTC()
	for i := range scenes {
		scenes[i].SceneID = uuid.NewString()
		scenes[i].VideoID = videoID
		scenes[i].CreatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, q, query, scenes[i]); err != nil {
			log.Errorf("Error creating scene %d for video '%s': %v", scenes[i].SceneNumber, videoID, err)
			return nil, fmt.Errorf("create scene %d: %w", scenes[i].SceneNumber, err)
		}
	}

	log.Infof("Created %d scenes for video ID: %s", len(scenes), videoID)
	return scenes, nil
}

// ListScenesByVideo returns the scenes of a video ordered by scene number.
func ListScenesByVideo(ctx context.Context, q sqlx.ExtContext, videoID string) ([]db.Scene, error) {
	var scenes []db.Scene
	query := q.Rebind(`
		SELECT scene_id, video_id, scene_number, visual_description, voiceover, created_at
		FROM scenes WHERE video_id = ? ORDER BY scene_number`)
	if err := sqlx.SelectContext(ctx, q, &scenes, query, videoID); err != nil {
		log.Errorf("Error listing scenes for video '%s': %v", videoID, err)
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	return scenes, nil
}

// ApprovedSceneNumbers returns the set of scene numbers that have at least
// one approved image.
func ApprovedSceneNumbers(ctx context.Context, q sqlx.ExtContext, videoID string) (map[int]bool, error) {
	var numbers []int
	query := q.Rebind(`
		SELECT DISTINCT s.scene_number
		FROM scenes s
		JOIN images i ON i.scene_id = s.scene_id
		WHERE s.video_id = ? AND i.status = ?
		ORDER BY s.scene_number`)
	if err := sqlx.SelectContext(ctx, q, &numbers, query, videoID, db.ImageStatusApproved); err != nil {
		log.Errorf("Error loading approved scenes for video '%s': %v", videoID, err)
		return nil, fmt.Errorf("approved scenes: %w", err)
	}

	approved := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		approved[n] = true
	}
	return approved, nil
}
