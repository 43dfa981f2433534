package session

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	log "github.com/sirupsen/logrus"
)

// NextScene returns the lowest scene number without an approved image, or
// len(scenes)+1 when every scene is approved. scenes must be ordered.
func NextScene(scenes []db.Scene, approved map[int]bool) int {
	for _, s := range scenes {
		if !approved[s.SceneNumber] {
			return s.SceneNumber
		}
	}
	return len(scenes) + 1
}

// BuildState derives a complete session state for (videoID, userID) from
// persisted records only. It reads and never writes. A missing video is
// reported as not found; a missing user leaves identity empty.
func BuildState(ctx context.Context, q sqlx.ExtContext, videoID, userID string, now time.Time) (State, error) {
	video, err := queries.FindVideoByID(ctx, q, videoID)
	if err != nil {
		return State{}, apperr.Internal("Could not load the video.", err)
	}
	if video == nil {
		log.Errorf("Rebuild requested for missing video '%s'", videoID)
		return State{}, apperr.NotFound("Video not found.")
	}

	user, err := queries.FindUserByID(ctx, q, userID)
	if err != nil {
		return State{}, apperr.Internal("Could not load the user.", err)
	}
	scenes, err := queries.ListScenesByVideo(ctx, q, videoID)
	if err != nil {
		return State{}, apperr.Internal("Could not load scenes.", err)
	}
	approved, err := queries.ApprovedSceneNumbers(ctx, q, videoID)
	if err != nil {
		return State{}, apperr.Internal("Could not load approved images.", err)
	}
	cp, err := queries.FindCheckpoint(ctx, q, videoID)
	if err != nil {
		return State{}, apperr.Internal("Could not load the checkpoint.", err)
	}

	state := State{UpdatedAt: now.UTC()}
	state.SelectVideo(videoID)
	progress := state.Progress
	progress.WorkflowID = newWorkflowID()
	progress.Phase = video.Status
	progress.ScriptCompleted = video.Script.Valid && video.Script.String != ""
	progress.ScenesCompleted = len(scenes) > 0
	progress.NextSceneToGenerate = NextScene(scenes, approved)
	progress.TotalScenes = len(scenes)
	progress.LastUpdatedAt = now.UTC()

	if cp != nil {
		progress.CurrentBatchNumber = cp.CurrentBatch
		progress.CharacterReferencePath = cp.CharacterReferencePath.String
	}
	if progress.CharacterReferencePath == "" {
		ref, err := queries.CharacterReferencePath(ctx, q, videoID)
		if err != nil {
			return State{}, apperr.Internal("Could not load the character reference.", err)
		}
		progress.CharacterReferencePath = ref
	}

	for _, s := range scenes {
		progress.ScenesSummary = append(progress.ScenesSummary, SceneSummary{
			SceneNumber: s.SceneNumber,
			Summary:     Summarize(s.VisualDescription),
		})
	}

	if user != nil {
		state.SetIdentity(user.UserID, user.Email, user.UserName.String, user.MonthlyCost)
	} else {
		log.Warnf("Rebuilding video '%s' for unknown user '%s'", videoID, userID)
		state.Identity.Name = DefaultName
	}
	return state, nil
}

func newWorkflowID() string {
	id := uuid.New()
	return "wf_" + hex.EncodeToString(id[:4])
}

// NewSessionID returns a session id bound to videoID.
func NewSessionID(videoID string) string {
	id := uuid.New()
	return "video_" + videoID + "__" + hex.EncodeToString(id[:4])
}
