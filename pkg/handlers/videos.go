package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/utils"
	log "github.com/sirupsen/logrus"
)

// CreateVideoRequest defines the structure for creating a new video.
type CreateVideoRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
}

// VideoResponse is the client view of a video.
type VideoResponse struct {
	ID                   string  `json:"id"`
	Title                string  `json:"title"`
	Status               string  `json:"status"`
	HasScript            bool    `json:"has_script"`
	TotalCost            float64 `json:"total_cost"`
	ImagesGeneratedCount int     `json:"images_generated_count"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

func newVideoResponse(v *db.Video) VideoResponse {
	return VideoResponse{
		ID:                   v.VideoID,
		Title:                v.Title,
		Status:               v.Status,
		HasScript:            v.Script.Valid && v.Script.String != "",
		TotalCost:            v.TotalCost,
		ImagesGeneratedCount: v.ImagesGeneratedCount,
		CreatedAt:            v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            v.UpdatedAt.Format(time.RFC3339),
	}
}

// ContextResponse is what a returning user sees first.
type ContextResponse struct {
	UserID          string            `json:"user_id"`
	Email           string            `json:"email"`
	Name            string            `json:"name"`
	LifetimeCost    float64           `json:"lifetime_cost"`
	SelectedVideoID string            `json:"selected_video_id,omitempty"`
	Videos          []db.VideoSummary `json:"videos"`
}

// GetContext returns the signed-in user, their recent videos and the
// currently selected one.
func (h *Handlers) GetContext(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := queries.FindUserByID(ctx, h.Store.DB, userID)
	if err != nil {
		utils.ResponseWithFailure(c, apperr.Internal("Could not load your account.", err))
		return
	}
	if user == nil {
		utils.ResponseWithFailure(c, apperr.New(apperr.ReasonUnauthenticated, "Your account no longer exists."))
		return
	}
	videos, err := queries.ListVideosByUser(ctx, h.Store.DB, userID)
	if err != nil {
		utils.ResponseWithFailure(c, apperr.Internal("Could not load your videos.", err))
		return
	}

	resp := ContextResponse{
		UserID:       user.UserID,
		Email:        user.Email,
		Name:         user.UserName.String,
		LifetimeCost: user.MonthlyCost,
		Videos:       videos,
	}
	if resp.Name == "" {
		resp.Name = session.DefaultName
	}

	selected, err := h.Pointers.LoadVideo(userID)
	if err != nil {
		log.Warnf("GetContext: could not read selected video pointer: %v", err)
	} else if selected != "" {
		video, err := queries.FindVideoForUser(ctx, h.Store.DB, selected, userID)
		if err != nil {
			utils.ResponseWithFailure(c, apperr.Internal("Could not load the selected video.", err))
			return
		}
		if video != nil {
			resp.SelectedVideoID = video.VideoID
		}
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Context retrieved successfully", resp)
}

// ListVideos returns the user's most recently updated videos.
func (h *Handlers) ListVideos(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	videos, err := queries.ListVideosByUser(c.Request.Context(), h.Store.DB, userID)
	if err != nil {
		utils.ResponseWithFailure(c, apperr.Internal("Could not load your videos.", err))
		return
	}
	log.Infof("Found %d videos for user %s.", len(videos), userID)
	utils.ResponseWithSuccess(c, http.StatusOK, "Videos retrieved successfully", videos)
}

// CreateVideo creates a video and selects it.
func (h *Handlers) CreateVideo(c *gin.Context) {
	var req CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateVideo: Invalid request body: %v", err)
		utils.ResponseWithFailure(c, invalidBody(err))
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		utils.ResponseWithFailure(c, apperr.New(apperr.ReasonInvalidFormat, "A video needs a title."))
		return
	}

	video, err := queries.CreateVideo(c.Request.Context(), h.Store.DB, userID, title)
	if err != nil {
		utils.ResponseWithFailure(c, apperr.Internal("Could not create the video.", err))
		return
	}
	if err := h.Pointers.SaveVideo(userID, video.VideoID); err != nil {
		log.Warnf("CreateVideo: could not record selected video: %v", err)
	}

	log.Infof("Video '%s' created for user %s. ID: %s", video.Title, userID, video.VideoID)
	utils.ResponseWithSuccess(c, http.StatusCreated, "Video created successfully", newVideoResponse(video))
}

// SelectVideo makes a video current and hands out its live session.
func (h *Handlers) SelectVideo(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	sess, err := h.Orchestrator.Acquire(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	if err := h.Pointers.SaveVideo(userID, c.Param("id")); err != nil {
		log.Warnf("SelectVideo: could not record selected video: %v", err)
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Video selected", newSessionResponse(sess))
}

// ClearSelection returns to the main menu.
func (h *Handlers) ClearSelection(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.Pointers.ClearVideo(userID); err != nil {
		utils.ResponseWithFailure(c, apperr.Internal("Could not clear the selection.", err))
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, "Selection cleared", nil)
}
