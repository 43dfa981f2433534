// Package dbtest opens migrated in-memory SQLite stores for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/narcissus123/continuity/pkg/db"
)

// Open returns a fresh migrated store that is closed when the test ends.
func Open(t testing.TB) *db.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()[:8]
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)

	store, err := db.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)

	if err := db.Migrate(context.Background(), store); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

// SeedUser inserts a user derived from email.
func SeedUser(t testing.TB, store *db.Store, email, name string) *db.User {
	t.Helper()
	now := time.Now().UTC()
	u := &db.User{
		UserID:    db.UserIDForEmail(email),
		Email:     email,
		UserName:  db.NullString(name),
		PlanTier:  db.DefaultPlanTier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := store.DB.NamedExecContext(context.Background(), `
		INSERT INTO users (user_id, email, user_name, monthly_cost, plan_tier, created_at, updated_at)
		VALUES (:user_id, :email, :user_name, :monthly_cost, :plan_tier, :created_at, :updated_at)`, u)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedVideo inserts an in-progress video for userID.
func SeedVideo(t testing.TB, store *db.Store, userID, title, script string) *db.Video {
	t.Helper()
	now := time.Now().UTC()
	v := &db.Video{
		VideoID:   uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Script:    db.NullString(script),
		Status:    db.VideoStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := store.DB.NamedExecContext(context.Background(), `
		INSERT INTO videos (video_id, user_id, title, script, status, created_at, updated_at)
		VALUES (:video_id, :user_id, :title, :script, :status, :created_at, :updated_at)`, v)
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}
	return v
}

// SeedScenes inserts scenes 1..n for videoID and returns them in order.
func SeedScenes(t testing.TB, store *db.Store, videoID string, n int) []db.Scene {
	t.Helper()
	scenes := make([]db.Scene, 0, n)
	for i := 1; i <= n; i++ {
		s := db.Scene{
			SceneID:           uuid.NewString(),
			VideoID:           videoID,
			SceneNumber:       i,
			VisualDescription: fmt.Sprintf("scene %d: a lighthouse at dusk", i),
			CreatedAt:         time.Now().UTC(),
		}
		_, err := store.DB.NamedExecContext(context.Background(), `
			INSERT INTO scenes (scene_id, video_id, scene_number, visual_description, voiceover, created_at)
			VALUES (:scene_id, :video_id, :scene_number, :visual_description, :voiceover, :created_at)`, s)
		if err != nil {
			t.Fatalf("seed scene %d: %v", i, err)
		}
		scenes = append(scenes, s)
	}
	return scenes
}

// SeedImage inserts an image for sceneID with the given status.
func SeedImage(t testing.TB, store *db.Store, sceneID, status string, characterRef bool) *db.Image {
	t.Helper()
	img := &db.Image{
		ImageID:              uuid.NewString(),
		SceneID:              sceneID,
		ImagePath:            "renders/" + sceneID + ".png",
		IsCharacterReference: characterRef,
		Status:               status,
		AttemptNumber:        1,
		CreatedAt:            time.Now().UTC(),
	}
	_, err := store.DB.NamedExecContext(context.Background(), `
		INSERT INTO images (image_id, scene_id, image_path, is_character_reference, status, attempt_number, generation_cost, created_at)
		VALUES (:image_id, :scene_id, :image_path, :is_character_reference, :status, :attempt_number, :generation_cost, :created_at)`, img)
	if err != nil {
		t.Fatalf("seed image: %v", err)
	}
	return img
}
