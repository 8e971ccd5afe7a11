package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/middleware"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
	"github.com/stemsi/testengine/internal/validator"
	ws "github.com/stemsi/testengine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an attempt over a WebSocket: answers in, grades and
// clock state out. Every action goes through the same AttemptService as
// the REST routes.
type WSHandler struct {
	attempts *service.AttemptService
	limiter  MessageLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// MessageLimiter throttles stream messages per user. The REST limiter
// satisfies it so both surfaces share one budget.
type MessageLimiter interface {
	AllowUser(userID int) bool
}

// NewWSHandler creates a new WSHandler. A nil limiter disables per-message
// throttling.
func NewWSHandler(attempts *service.AttemptService, limiter MessageLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	actor := claims.Actor()
	ctx := c.Request.Context()

	// Reject before upgrading so the client gets a normal HTTP error.
	if _, err := h.attempts.GetAttempt(ctx, actor, attemptID); err != nil {
		failService(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Configure(conn)

	wsLog := h.log.With().
		Int("student_id", actor.ID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	if !h.sendState(ctx, conn, actor, attemptID) {
		return
	}

	for {
		var msg ws.Request
		err := ws.ReadJSON(conn, &msg)
		if errors.Is(err, ws.ErrBadMessage) {
			if ws.WriteError(conn, string(response.ErrValidation), "message must be a JSON object") != nil {
				return
			}
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if h.limiter != nil && !h.limiter.AllowUser(actor.ID) {
			if ws.WriteError(conn, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded)) != nil {
				return
			}
			continue
		}

		var keepOpen bool
		switch msg.Action {
		case ws.ActionAnswer:
			keepOpen = h.handleAnswer(ctx, conn, actor, attemptID, &msg)
		case ws.ActionState:
			keepOpen = h.sendState(ctx, conn, actor, attemptID)
		case ws.ActionEnd:
			h.handleEnd(ctx, conn, wsLog, actor, attemptID)
			keepOpen = false
		case ws.ActionPing:
			keepOpen = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}) == nil
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			keepOpen = ws.WriteError(conn, "", "unknown action: "+string(msg.Action)) == nil
		}
		if !keepOpen {
			return
		}
	}
}

// handleAnswer grades one answer. It applies the same rules as the REST
// route. An expired attempt ends the stream.
func (h *WSHandler) handleAnswer(ctx context.Context, conn *websocket.Conn, actor service.Actor, attemptID uuid.UUID, msg *ws.Request) bool {
	req := model.SubmitAnswerRequest{QuestionID: msg.QuestionID, Answer: msg.Answer}
	if fields := validator.Struct(&req); fields != nil {
		return ws.WriteError(conn, string(response.ErrValidation), validationSummary(fields)) == nil
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return ws.WriteError(conn, string(response.ErrValidation), "invalid question_id format") == nil
	}

	graded, err := h.attempts.SubmitAnswer(ctx, actor, attemptID, questionID, msg.Answer)
	if err != nil {
		return h.writeServiceError(conn, err)
	}
	return ws.WriteTyped(conn, ws.GradedResponse{Event: ws.EventGraded, Answer: graded}) == nil
}

func (h *WSHandler) handleEnd(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, actor service.Actor, attemptID uuid.UUID) {
	snap, err := h.attempts.End(ctx, actor, attemptID)
	if err != nil {
		h.writeServiceError(conn, err)
		return
	}
	wsLog.Info().
		Int("marks_obtained", snap.MarksObtained).
		Float64("accuracy", snap.AccuracyPercentage).
		Msg("Attempt ended over stream")
	ws.WriteTyped(conn, ws.ResultResponse{Event: ws.EventResult, Result: snap})
}

func (h *WSHandler) sendState(ctx context.Context, conn *websocket.Conn, actor service.Actor, attemptID uuid.UUID) bool {
	view, err := h.attempts.GetAttempt(ctx, actor, attemptID)
	if err != nil {
		return h.writeServiceError(conn, err)
	}
	return ws.WriteTyped(conn, ws.StateResponse{
		Event:            ws.EventState,
		AttemptID:        view.Attempt.ID,
		Status:           view.Attempt.Status,
		RemainingSeconds: view.RemainingSeconds,
		LastQuestionID:   view.LastQuestionID,
		Answered:         len(view.Answers),
	}) == nil
}

// validationSummary flattens field errors into one line for an error event.
func validationSummary(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fields[k])
	}
	return strings.Join(msgs, "; ")
}

// writeServiceError reports err and tells the caller whether to keep the
// stream open. Expiry and unexpected failures close it.
func (h *WSHandler) writeServiceError(conn *websocket.Conn, err error) bool {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Stream action failed")
	}
	if writeErr := ws.WriteError(conn, string(code), response.GetMessage(code)); writeErr != nil {
		return false
	}
	return !errors.Is(err, service.ErrTestExpired) && status != http.StatusInternalServerError
}
