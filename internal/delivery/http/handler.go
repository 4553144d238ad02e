package http

import (
	"fmt"
	"net/http"
	"strconv"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor переводит тип ошибки в HTTP статус
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		server.WithRequestID(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(code, models.ErrorResponse{Detail: apperrors.Message(err)})
}

func (h *Handler) badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: detail})
}

// bindUserID читает {"user_id": N} из тела запроса
func (h *Handler) bindUserID(c *gin.Context) (uint, bool) {
	var req models.UserIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return 0, false
	}
	if req.UserID == 0 {
		h.badRequest(c, "user_id is required")
		return 0, false
	}
	return req.UserID, true
}

// Register POST /register
func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	resp, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Start POST /start
func (h *Handler) Start(c *gin.Context) {
	id, ok := h.bindUserID(c)
	if !ok {
		return
	}
	if _, err := h.users.Start(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{
		Message: fmt.Sprintf("Scheduling activated for user %d", id),
		UserID:  id,
	})
}

// Stop POST /stop
func (h *Handler) Stop(c *gin.Context) {
	id, ok := h.bindUserID(c)
	if !ok {
		return
	}
	if _, err := h.users.Stop(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{
		Message: fmt.Sprintf("Scheduling deactivated for user %d", id),
		UserID:  id,
	})
}

// CallNow POST /call-now
func (h *Handler) CallNow(c *gin.Context) {
	id, ok := h.bindUserID(c)
	if !ok {
		return
	}
	user, res, err := h.users.TriggerNow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{
		Message: fmt.Sprintf("Call initiated to %s. Check your phone!", user.PhoneNumber),
		UserID:  id,
		CallSID: res.SID,
	})
}

// DeleteUser POST /delete-user
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := h.bindUserID(c)
	if !ok {
		return
	}
	user, err := h.users.DeleteUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{
		Message: fmt.Sprintf("User %s deleted successfully", user.PhoneNumber),
		UserID:  id,
	})
}

// ListUsers GET /users
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make([]models.UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, models.NewUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// GetUser GET /users/:id
func (h *Handler) GetUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		h.badRequest(c, "invalid user id")
		return
	}
	user, err := h.users.GetUser(c.Request.Context(), uint(id))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserResponse(user))
}
