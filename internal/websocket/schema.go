package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/testengine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionState  Action = "state"
	ActionEnd    Action = "end"
	ActionPing   Action = "ping"
)

// Request is a client message on the attempt stream. Answer fields are
// only read for ActionAnswer.
type Request struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventGraded Event = "graded"
	EventState  Event = "state"
	EventResult Event = "result"
	EventPong   Event = "pong"
)

type GradedResponse struct {
	Event  Event               `json:"event"`
	Answer *model.GradedAnswer `json:"answer"`
}

type StateResponse struct {
	Event            Event               `json:"event"`
	AttemptID        uuid.UUID           `json:"attempt_id"`
	Status           model.AttemptStatus `json:"status"`
	RemainingSeconds int                 `json:"remaining_seconds"`
	LastQuestionID   *uuid.UUID          `json:"last_question_id,omitempty"`
	Answered         int                 `json:"answered"`
}

type ResultResponse struct {
	Event  Event                    `json:"event"`
	Result *model.AnalyticsSnapshot `json:"result"`
}

// ErrorResponse reports a failed action. Code mirrors the REST error codes.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
