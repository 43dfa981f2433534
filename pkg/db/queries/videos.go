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

const videoColumns = `video_id, user_id, last_session_id, title, script, video_path, voiceover_path,
	thumbnail_path, total_cost, images_generated_count, status, created_at, updated_at`

// MaxListedVideos caps the menu listing.
const MaxListedVideos = 10

// CreateVideo inserts a new in-progress video for the user.
func CreateVideo(ctx context.Context, q sqlx.ExtContext, userID, title string) (*db.Video, error) {
	now := time.Now().UTC()
	video := &db.Video{
		VideoID:   uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Status:    db.VideoStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO videos (video_id, user_id, title, status, total_cost, images_generated_count, created_at, updated_at)
		VALUES (:video_id, :user_id, :title, :status, :total_cost, :images_generated_count, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, q, query, video); err != nil {
		log.Errorf("Error creating video '%s' for user %s: %v", title, userID, err)
		return nil, fmt.Errorf("create video: %w", err)
	}

	log.Infof("Video '%s' created for user ID: %s (ID: %s)", title, userID, video.VideoID)
	return video, nil
}

// FindVideoByID retrieves a video. It returns nil, nil when absent.
func FindVideoByID(ctx context.Context, q sqlx.ExtContext, videoID string) (*db.Video, error) {
	video := &db.Video{}
	query := q.Rebind(`SELECT ` + videoColumns + ` FROM videos WHERE video_id = ?`)
	if err := sqlx.GetContext(ctx, q, video, query, videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("Video with ID '%s' not found.", videoID)
			return nil, nil
		}
		log.Errorf("Error finding video by ID '%s': %v", videoID, err)
		return nil, fmt.Errorf("find video by id: %w", err)
	}
	return video, nil
}

// FindVideoForUser retrieves a video only if it belongs to userID.
func FindVideoForUser(ctx context.Context, q sqlx.ExtContext, videoID, userID string) (*db.Video, error) {
	video := &db.Video{}
	query := q.Rebind(`SELECT ` + videoColumns + ` FROM videos WHERE video_id = ? AND user_id = ?`)
	if err := sqlx.GetContext(ctx, q, video, query, videoID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("Video '%s' not found for user '%s'.", videoID, userID)
			return nil, nil
		}
		log.Errorf("Error finding video '%s' for user '%s': %v", videoID, userID, err)
		return nil, fmt.Errorf("find video for user: %w", err)
	}
	return video, nil
}

// ListVideosByUser returns the most recently updated videos with their scene counts.
func ListVideosByUser(ctx context.Context, q sqlx.ExtContext, userID string) ([]db.VideoSummary, error) {
	var videos []db.VideoSummary
	query := q.Rebind(`
		SELECT v.video_id, v.title, v.status, v.created_at, v.updated_at,
		       (SELECT COUNT(*) FROM scenes s WHERE s.video_id = v.video_id) AS scene_count
		FROM videos v
		WHERE v.user_id = ?
		ORDER BY v.updated_at DESC
		LIMIT ?`)
	if err := sqlx.SelectContext(ctx, q, &videos, query, userID, MaxListedVideos); err != nil {
		log.Errorf("Error listing videos for user '%s': %v", userID, err)
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}

// UpdateVideoScript stores the finished script.
func UpdateVideoScript(ctx context.Context, q sqlx.ExtContext, videoID, script string) error {
	return execVideoUpdate(ctx, q, videoID, "script",
		`UPDATE videos SET script = ?, updated_at = ? WHERE video_id = ?`, script, time.Now().UTC(), videoID)
}

// UpdateVideoStatus moves the video through in_progress → completed → archived.
func UpdateVideoStatus(ctx context.Context, q sqlx.ExtContext, videoID, status string) error {
	return execVideoUpdate(ctx, q, videoID, "status",
		`UPDATE videos SET status = ?, updated_at = ? WHERE video_id = ?`, status, time.Now().UTC(), videoID)
}

// SetVideoLastSession binds the video to its live workflow session.
func SetVideoLastSession(ctx context.Context, q sqlx.ExtContext, videoID, sessionID string) error {
	return execVideoUpdate(ctx, q, videoID, "last_session_id",
		`UPDATE videos SET last_session_id = ?, updated_at = ? WHERE video_id = ?`, sessionID, time.Now().UTC(), videoID)
}

// AddVideoImageCost records one generated image and its cost against the video.
func AddVideoImageCost(ctx context.Context, q sqlx.ExtContext, videoID string, cost float64) error {
	return execVideoUpdate(ctx, q, videoID, "image cost",
		`UPDATE videos SET total_cost = total_cost + ?, images_generated_count = images_generated_count + 1, updated_at = ?
		 WHERE video_id = ?`, cost, time.Now().UTC(), videoID)
}

func execVideoUpdate(ctx context.Context, q sqlx.ExtContext, videoID, field, query string, args ...interface{}) error {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		log.Errorf("Error updating %s of video '%s': %v", field, videoID, err)
		return fmt.Errorf("update video %s: %w", field, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Warnf("No video found with ID '%s' for %s update.", videoID, field)
		return sql.ErrNoRows
	}
	return nil
}
