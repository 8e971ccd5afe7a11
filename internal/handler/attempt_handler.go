package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/middleware"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
	"github.com/stemsi/testengine/internal/validator"
)

// AttemptHandler exposes the attempt state machine over REST.
type AttemptHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// actorAndAttempt resolves the caller and the :attempt_id path parameter,
// writing the failure response itself when either is missing.
func actorAndAttempt(c *gin.Context) (service.Actor, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return service.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return service.Actor{}, uuid.Nil, false
	}
	return claims.Actor(), id, true
}

// CreateAttempt godoc
// POST /api/v1/attempts
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	testID, _ := uuid.Parse(req.TestID)

	attempt, err := h.attempts.CreateAttempt(c.Request.Context(), claims.Actor(), testID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, attempt)
}

// ListAttempts godoc
// GET /api/v1/attempts
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attempts.ListAttempts(c.Request.Context(), claims.Actor())
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetAttempt godoc
// GET /api/v1/attempts/:attempt_id
// Returns the attempt with its live remaining time and answers.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}
	view, err := h.attempts.GetAttempt(c.Request.Context(), actor, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Start godoc
// POST /api/v1/attempts/:attempt_id/start
func (h *AttemptHandler) Start(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}
	attempt, err := h.attempts.Start(c.Request.Context(), actor, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// Pause godoc
// POST /api/v1/attempts/:attempt_id/pause
func (h *AttemptHandler) Pause(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}
	res, err := h.attempts.Pause(c.Request.Context(), actor, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Resume godoc
// POST /api/v1/attempts/:attempt_id/resume
func (h *AttemptHandler) Resume(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}
	attempt, err := h.attempts.Resume(c.Request.Context(), actor, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, attempt)
}

// SubmitAnswer godoc
// POST /api/v1/attempts/:attempt_id/answers
// Stores and grades one answer. Unparseable answers are graded incorrect
// and the reason is returned in the error field of the result.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, _ := uuid.Parse(req.QuestionID)

	graded, err := h.attempts.SubmitAnswer(c.Request.Context(), actor, id, questionID, req.Answer)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, graded)
}

// End godoc
// POST /api/v1/attempts/:attempt_id/end
func (h *AttemptHandler) End(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}
	snap, err := h.attempts.End(c.Request.Context(), actor, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// GetResult godoc
// GET /api/v1/attempts/:attempt_id/result
func (h *AttemptHandler) GetResult(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}
	snap, err := h.attempts.GetResult(c.Request.Context(), actor, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// ExtendTime godoc
// POST /api/v1/staff/attempts/:attempt_id/extend
func (h *AttemptHandler) ExtendTime(c *gin.Context) {
	actor, id, ok := actorAndAttempt(c)
	if !ok {
		return
	}

	var req model.ExtendTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.ExtendTime(c.Request.Context(), actor, id, req.AdditionalMinutes)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
