package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/services"
	"github.com/narcissus123/continuity/pkg/utils"
	log "github.com/sirupsen/logrus"
)

type NameRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,max=128"`
	Name           string `json:"name" binding:"required,max=100"`
}

type EmailRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,max=128"`
	Email          string `json:"email" binding:"required"`
}

type VerifyRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,max=128"`
	Token          string `json:"token" binding:"required"`
}

// SaveName keeps the user's name until their email is verified.
func (h *Handlers) SaveName(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("SaveName: Invalid request body: %v", err)
		utils.ResponseWithFailure(c, invalidBody(err))
		return
	}

	ctx := c.Request.Context()
	conv, err := h.conversation(ctx, req.ConversationID)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	result, err := h.Auth.SavePendingName(&conv.State, req.Name)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	if err := h.saveConversation(ctx, conv); err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, result.Message, result)
}

// RequestVerification mails a one-time token to a new email address.
func (h *Handlers) RequestVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("RequestVerification: Invalid request body: %v", err)
		utils.ResponseWithFailure(c, invalidBody(err))
		return
	}

	result, err := h.Auth.RequestVerification(c.Request.Context(), req.Email)
	if apperr.Is(err, apperr.ReasonAlreadyRegistered) {
		c.JSON(http.StatusConflict, utils.JSONResponse{
			Success: false,
			Reason:  string(apperr.ReasonAlreadyRegistered),
			Message: apperr.MessageOf(err),
			Data:    services.AuthResult{Action: services.ActionVerify, Message: apperr.MessageOf(err)},
		})
		return
	}
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	log.Infof("Verification requested for %s", result.Email)
	utils.ResponseWithSuccess(c, http.StatusOK, result.Message, result)
}

// VerifyToken redeems the emailed token and signs the user in.
func (h *Handlers) VerifyToken(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("VerifyToken: Invalid request body: %v", err)
		utils.ResponseWithFailure(c, invalidBody(err))
		return
	}

	ctx := c.Request.Context()
	conv, err := h.conversation(ctx, req.ConversationID)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	result, err := h.Auth.VerifyToken(ctx, &conv.State, req.Token)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	if err := h.saveConversation(ctx, conv); err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	log.Infof("User %s verified their email.", result.UserID)
	utils.ResponseWithSuccess(c, http.StatusOK, result.Message, result)
}

// RestoreUser recognises a returning user by email.
func (h *Handlers) RestoreUser(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("RestoreUser: Invalid request body: %v", err)
		utils.ResponseWithFailure(c, invalidBody(err))
		return
	}

	ctx := c.Request.Context()
	conv, err := h.conversation(ctx, req.ConversationID)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	result, err := h.Auth.RestoreUser(ctx, &conv.State, req.Email)
	if err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	if err := h.saveConversation(ctx, conv); err != nil {
		utils.ResponseWithFailure(c, err)
		return
	}
	utils.ResponseWithSuccess(c, http.StatusOK, result.Message, result)
}
