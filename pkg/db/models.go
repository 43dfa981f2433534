package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"
)

const (
	VideoStatusInProgress = "in_progress"
	VideoStatusCompleted  = "completed"
	VideoStatusArchived   = "archived"

	ImageStatusPending  = "pending"
	ImageStatusApproved = "approved"
	ImageStatusRejected = "rejected"

	DefaultPlanTier = "free"
)

type User struct {
	UserID      string         `db:"user_id"`
	Email       string         `db:"email"`
	UserName    sql.NullString `db:"user_name"`
	MonthlyCost float64        `db:"monthly_cost"`
	PlanTier    string         `db:"plan_tier"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

type Video struct {
	VideoID              string         `db:"video_id"`
	UserID               string         `db:"user_id"`
	LastSessionID        sql.NullString `db:"last_session_id"`
	Title                string         `db:"title"`
	Script               sql.NullString `db:"script"`
	VideoPath            sql.NullString `db:"video_path"`
	VoiceoverPath        sql.NullString `db:"voiceover_path"`
	ThumbnailPath        sql.NullString `db:"thumbnail_path"`
	TotalCost            float64        `db:"total_cost"`
	ImagesGeneratedCount int            `db:"images_generated_count"`
	Status               string         `db:"status"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

// VideoSummary is the menu listing row.
type VideoSummary struct {
	VideoID    string    `db:"video_id" json:"video_id"`
	Title      string    `db:"title" json:"title"`
	Status     string    `db:"status" json:"status"`
	SceneCount int       `db:"scene_count" json:"scene_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type Scene struct {
	SceneID           string         `db:"scene_id"`
	VideoID           string         `db:"video_id"`
	SceneNumber       int            `db:"scene_number"`
	VisualDescription string         `db:"visual_description"`
	Voiceover         sql.NullString `db:"voiceover"`
	CreatedAt         time.Time      `db:"created_at"`
}

type Image struct {
	ImageID              string         `db:"image_id"`
	SceneID              string         `db:"scene_id"`
	ImagePath            string         `db:"image_path"`
	ClipPath             sql.NullString `db:"clip_path"`
	IsCharacterReference bool           `db:"is_character_reference"`
	Status               string         `db:"status"`
	AttemptNumber        int            `db:"attempt_number"`
	RejectedReason       sql.NullString `db:"rejected_reason"`
	GenerationCost       float64        `db:"generation_cost"`
	CreatedAt            time.Time      `db:"created_at"`
}

// SceneImage is an image joined with the number of the scene it belongs to.
type SceneImage struct {
	Image
	SceneNumber int    `db:"scene_number"`
	VideoID     string `db:"video_id"`
}

type VerificationToken struct {
	Token     string    `db:"token"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
}

// Checkpoint is the durable tail of a workflow session: one row per video.
type Checkpoint struct {
	VideoID                string         `db:"video_id"`
	NextScene              int            `db:"next_scene"`
	CurrentBatch           int            `db:"current_batch"`
	CharacterReferencePath sql.NullString `db:"character_reference_path"`
	SessionCost            float64        `db:"session_cost"`
	LastUpdatedAt          time.Time      `db:"last_updated_at"`
}

// UserIDForEmail derives the stable user id from an email address. The id is
// a lookup key, not a credential.
func UserIDForEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:12]
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
