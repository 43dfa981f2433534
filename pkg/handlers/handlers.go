package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/localctx"
	"github.com/narcissus123/continuity/pkg/metrics"
	"github.com/narcissus123/continuity/pkg/middleware"
	"github.com/narcissus123/continuity/pkg/services"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/utils"
	"github.com/narcissus123/continuity/pkg/workflow"
	log "github.com/sirupsen/logrus"
)

// Handlers holds the dependencies of the HTTP layer.
type Handlers struct {
	Store        *db.Store
	Auth         *services.AuthService
	JWT          *services.JWTService
	Orchestrator *session.Orchestrator
	Coordinator  *workflow.Coordinator
	Pointers     *localctx.Pointers
}

// Register mounts every route on r.
func (h *Handlers) Register(r *gin.Engine) {
	r.Use(metrics.Middleware())
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", metrics.Handler())

	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/name", h.SaveName)
		authRoutes.POST("/request-verification", h.RequestVerification)
		authRoutes.POST("/verify", h.VerifyToken)
		authRoutes.POST("/restore", h.RestoreUser)
	}

	protectedRoutes := r.Group("/api")
	protectedRoutes.Use(middleware.AuthMiddleware(h.JWT))
	{
		protectedRoutes.GET("/context", h.GetContext)

		videoRoutes := protectedRoutes.Group("/videos")
		{
			videoRoutes.GET("", h.ListVideos)
			videoRoutes.POST("", h.CreateVideo)
			videoRoutes.DELETE("/selection", h.ClearSelection)
			videoRoutes.POST("/:id/select", h.SelectVideo)
			videoRoutes.POST("/:id/session", h.AcquireSession)
			videoRoutes.POST("/:id/step", h.Step)
			videoRoutes.POST("/:id/pause", h.Pause)
			videoRoutes.POST("/:id/checkpoint", h.Checkpoint)
			videoRoutes.GET("/:id/state", h.GetState)
		}

		protectedRoutes.POST("/images/:id/review", h.ReviewImage)
	}
}

// currentUserID returns the verified user id of the request, writing a
// failure when there is none.
func currentUserID(c *gin.Context) (string, bool) {
	claims, ok := middleware.GetUserClaimsFromContext(c)
	if !ok {
		log.Error("User claims not found in context for protected route.")
		utils.ResponseWithFailure(c, apperr.New(apperr.ReasonUnauthenticated, "Authentication required."))
		return "", false
	}
	return claims.UserID, true
}

// conversation loads the pre-login state of a conversation, creating it on
// first use.
func (h *Handlers) conversation(ctx context.Context, conversationID string) (*session.Session, error) {
	sessions := h.Orchestrator.Sessions()
	app := h.Orchestrator.AppName()
	id := "conv_" + conversationID

	sess, err := sessions.Get(ctx, app, "", id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, apperr.Internal("Could not load the conversation.", err)
	}

	sess, err = sessions.Create(ctx, app, "", id, session.State{})
	if err != nil {
		// Lost a create race; the other request's session wins.
		if again, getErr := sessions.Get(ctx, app, "", id); getErr == nil {
			return again, nil
		}
		return nil, apperr.Internal("Could not start the conversation.", err)
	}
	return sess, nil
}

func (h *Handlers) saveConversation(ctx context.Context, sess *session.Session) error {
	if err := h.Orchestrator.Sessions().Save(ctx, sess); err != nil {
		return apperr.Internal("Could not save the conversation.", err)
	}
	return nil
}

func invalidBody(err error) error {
	return apperr.Wrap(apperr.ReasonInvalidFormat, "Invalid request body", err)
}
