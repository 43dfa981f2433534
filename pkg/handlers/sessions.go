package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/utils"
	"github.com/narcissus123/continuity/pkg/workflow"
	log "github.com/sirupsen/logrus"
)

// SessionResponse is the client view of a live video session.
type SessionResponse struct {
	SessionID string            `json:"session_id"`
	VideoID   string            `json:"video_id"`
	Phase     string            `json:"phase"`
	Identity  session.Identity  `json:"identity"`
	Progress  *session.Progress `json:"progress"`
}

func newSessionResponse(sess *session.Session) SessionResponse {
	return SessionResponse{
		SessionID: sess.ID,
		VideoID:   sess.State.SelectedVideoID(),
		Phase:     workflow.PhaseOf(sess.State.Progress).String(),
		Identity:  sess.State.Identity,
		Progress:  sess.State.Progress,
	}
}

type StepRequest struct {
	Phase string `json:"phase"`
}

type ReviewRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Reason  string `json:"reason" binding:"max=500"`
}

// acquire resolves the live session of the :id video for the current user.
func (h *Handlers) acquire(c *gin.Context, videoID string) (*session.Session, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return nil, false
	}
	sess, err := h.Orchestrator.Acquire(c.Request.Context(), videoID, userID)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return nil, false
	}
	return sess, true
}

// AcquireSession resumes or rebuilds the video's session.
func (h *Handlers) AcquireSession(c *gin.Context) {
	sess, ok := h.acquire(c, c.Param("id"))
	if !ok {
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Session ready", newSessionResponse(sess))
}

// Step runs the next phase of the video's workflow.
func (h *Handlers) Step(c *gin.Context) {
	var req StepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ResponseWithFailure(c, invalidBody(err))
			return
		}
	}
	var want *workflow.Phase
	if req.Phase != "" {
		p, err := workflow.ParsePhase(req.Phase)
		if err != nil {
			utils.ResponseWithFailure(c, err)
			return
		}
		want = &p
	}

	sess, ok := h.acquire(c, c.Param("id"))
	if !ok {
		return
	}
	result, err := h.Coordinator.Step(c.Request.Context(), sess, want)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Ran the "+result.Ran+" phase", result)
}

// Pause checkpoints the video and yields.
func (h *Handlers) Pause(c *gin.Context) {
	sess, ok := h.acquire(c, c.Param("id"))
	if !ok {
		return
	}
	result, err := h.Coordinator.Pause(c.Request.Context(), sess)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Progress saved. Pick up any time.", result)
}

// Checkpoint flushes the video's progress to the store.
func (h *Handlers) Checkpoint(c *gin.Context) {
	sess, ok := h.acquire(c, c.Param("id"))
	if !ok {
		return
	}
	cp, err := h.Coordinator.Checkpoint(c.Request.Context(), sess)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Checkpoint saved", gin.H{
		"video_id":                 cp.VideoID,
		"next_scene":               cp.NextScene,
		"current_batch":            cp.CurrentBatch,
		"character_reference_path": cp.CharacterReferencePath.String,
		"session_cost":             cp.SessionCost,
		"last_updated_at":          cp.LastUpdatedAt,
	})
}

// GetState returns the flat state map of the video's session.
func (h *Handlers) GetState(c *gin.Context) {
	sess, ok := h.acquire(c, c.Param("id"))
	if !ok {
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "State retrieved successfully", gin.H{
		"session_id": sess.ID,
		"phase":      workflow.PhaseOf(sess.State.Progress).String(),
		"state":      sess.State.Flatten(),
	})
}

// ReviewImage approves or rejects a generated image.
func (h *Handlers) ReviewImage(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ResponseWithFailure(c, invalidBody(err))
		return
	}

	img, err := queries.FindImageByID(c.Request.Context(), h.Store.DB, c.Param("id"))
	if err != nil {
		utils.ResponseWithFailure(c, apperr.Internal("Could not load the image.", err))
		return
	}
	if img == nil {
		utils.ResponseWithFailure(c, apperr.NotFound("Image not found."))
		return
	}

	sess, ok := h.acquire(c, img.VideoID)
	if !ok {
		return
	}
	reviewed, err := h.Coordinator.Review(c.Request.Context(), sess, img.ImageID, *req.Approve, req.Reason)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	log.Infof("Image %s of video %s marked %s", reviewed.ImageID, reviewed.VideoID, reviewed.Status)
	utils.ResponseWithSuccess(c, http.StatusOK, "Image "+reviewed.Status, gin.H{
		"image_id":               reviewed.ImageID,
		"scene_number":           reviewed.SceneNumber,
		"status":                 reviewed.Status,
		"next_scene_to_generate": sess.State.Progress.NextSceneToGenerate,
	})
}
