package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/db"
	log "github.com/sirupsen/logrus"
)

const imageColumns = `i.image_id, i.scene_id, i.image_path, i.clip_path, i.is_character_reference, i.status,
	i.attempt_number, i.rejected_reason, i.generation_cost, i.created_at`

// CreateImage records one generation attempt for a scene.
func CreateImage(ctx context.Context, q sqlx.ExtContext, img *db.Image) (*db.Image, error) {
	if img.ImageID == "" {
		img.ImageID = uuid.NewString()
	}
	if img.Status == "" {
		img.Status = db.ImageStatusPending
	}
	if img.AttemptNumber < 1 {
		img.AttemptNumber = 1
	}
	img.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO images (image_id, scene_id, image_path, clip_path, is_character_reference, status,
		                    attempt_number, rejected_reason, generation_cost, created_at)
		VALUES (:image_id, :scene_id, :image_path, :clip_path, :is_character_reference, :status,
		        :attempt_number, :rejected_reason, :generation_cost, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, q, query, img); err != nil {
		log.Errorf("Error creating image for scene '%s': %v", img.SceneID, err)
		return nil, fmt.Errorf("create image: %w", err)
	}
	return img, nil
}

// FindImageByID retrieves an image with its scene number and video id.
// It returns nil, nil when absent.
func FindImageByID(ctx context.Context, q sqlx.ExtContext, imageID string) (*db.SceneImage, error) {
	img := &db.SceneImage{}
	query := q.Rebind(`SELECT ` + imageColumns + `, s.scene_number, s.video_id
		FROM images i JOIN scenes s ON s.scene_id = i.scene_id
		WHERE i.image_id = ?`)
	if err := sqlx.GetContext(ctx, q, img, query, imageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("Image with ID '%s' not found.", imageID)
			return nil, nil
		}
		log.Errorf("Error finding image by ID '%s': %v", imageID, err)
		return nil, fmt.Errorf("find image by id: %w", err)
	}
	return img, nil
}

// CountImagesForScene returns how many attempts a scene has had.
func CountImagesForScene(ctx context.Context, q sqlx.ExtContext, sceneID string) (int, error) {
	var n int
	query := q.Rebind(`SELECT COUNT(*) FROM images WHERE scene_id = ?`)
	if err := sqlx.GetContext(ctx, q, &n, query, sceneID); err != nil {
		log.Errorf("Error counting images for scene '%s': %v", sceneID, err)
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// SetImageStatus approves or rejects an image. reason is stored only for rejections.
func SetImageStatus(ctx context.Context, q sqlx.ExtContext, imageID, status, reason string) error {
	if status != db.ImageStatusRejected {
		reason = ""
	}
	query := q.Rebind(`UPDATE images SET status = ?, rejected_reason = ? WHERE image_id = ?`)
	res, err := q.ExecContext(ctx, query, status, db.NullString(reason), imageID)
	if err != nil {
		log.Errorf("Error setting status of image '%s': %v", imageID, err)
		return fmt.Errorf("set image status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Warnf("No image found with ID '%s' for status update.", imageID)
		return sql.ErrNoRows
	}
	return nil
}

// CharacterReferencePath returns the path of the earliest approved character
// reference image of a video, or "" when there is none.
func CharacterReferencePath(ctx context.Context, q sqlx.ExtContext, videoID string) (string, error) {
	var path string
	query := q.Rebind(`
		SELECT i.image_path
		FROM images i JOIN scenes s ON s.scene_id = i.scene_id
		WHERE s.video_id = ? AND i.status = ? AND i.is_character_reference = TRUE
		ORDER BY s.scene_number, i.created_at
		LIMIT 1`)
	if err := sqlx.GetContext(ctx, q, &path, query, videoID, db.ImageStatusApproved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		log.Errorf("Error loading character reference for video '%s': %v", videoID, err)
		return "", fmt.Errorf("character reference: %w", err)
	}
	return path, nil
}

// ListImagesForVideo returns every image of a video ordered by scene and attempt.
func ListImagesForVideo(ctx context.Context, q sqlx.ExtContext, videoID string) ([]db.SceneImage, error) {
	var images []db.SceneImage
	query := q.Rebind(`SELECT ` + imageColumns + `, s.scene_number, s.video_id
		FROM images i JOIN scenes s ON s.scene_id = i.scene_id
		WHERE s.video_id = ?
		ORDER BY s.scene_number, i.attempt_number`)
	if err := sqlx.SelectContext(ctx, q, &images, query, videoID); err != nil {
		log.Errorf("Error listing images for video '%s': %v", videoID, err)
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}
