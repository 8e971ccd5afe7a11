package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
)

// TestHandler serves test papers.
type TestHandler struct {
	papers *service.PaperService
	log    zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(papers *service.PaperService, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		papers: papers,
		log:    log.With().Str("component", "test_handler").Logger(),
	}
}

// GetPaper godoc
// GET /api/v1/tests/:test_id/paper
// Returns the test with its ordered sections and questions.
func (h *TestHandler) GetPaper(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.papers.GetPaper(c.Request.Context(), testID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}
