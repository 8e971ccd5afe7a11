package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/testengine/internal/clock"
	"github.com/stemsi/testengine/internal/config"
	"github.com/stemsi/testengine/internal/handler"
	"github.com/stemsi/testengine/internal/middleware"
	"github.com/stemsi/testengine/internal/model"
	"github.com/stemsi/testengine/internal/repository"
	"github.com/stemsi/testengine/internal/response"
	"github.com/stemsi/testengine/internal/service"
	"github.com/stemsi/testengine/internal/validator"
	ws "github.com/stemsi/testengine/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	engine  *gin.Engine
	clock   *clock.Manual
	test    *model.Test
	student string
	other   string
	staff   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newLimitedEnv(t, middleware.NewRateLimiter(1000, 1000))
}

func newLimitedEnv(t *testing.T, limiter *middleware.RateLimiter) *env {
	t.Helper()
	validator.Setup()

	store := repository.NewMemoryStore()
	test := &model.Test{
		Title: "Abacus", DurationMinutes: 10, IsActive: true,
		Sections: []model.Section{{SectionType: "mixed", Order: 1, Questions: []model.Question{
			{Text: "[3, 4, 5]", Order: 1, Marks: 1, Type: model.QuestionTypePlus},
			{Text: "[7, 2]", Order: 2, Marks: 1, Type: model.QuestionTypeDivide},
		}}},
	}
	require.NoError(t, store.CreateTest(context.Background(), test))

	log := zerolog.Nop()
	clk := clock.NewManual(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	attempts := service.NewAttemptService(store, clk, service.NewGradingService(log), log)
	papers := service.NewPaperService(store, nil, config.NewPaperKeys(""), time.Minute, log)
	tokens := service.NewTokenService("test-secret")

	cfg := &config.Config{GinMode: gin.TestMode}
	engine := SetupRouter(tokens, limiter, &Handlers{
		Attempt: handler.NewAttemptHandler(attempts, log),
		Test:    handler.NewTestHandler(papers, log),
		WS:      handler.NewWSHandler(attempts, limiter, log, nil),
		System:  handler.NewSystemHandler(map[string]handler.Check{"store": func(context.Context) error { return nil }}, log),
		Log:     log,
	}, cfg)

	issue := func(id int, role string) string {
		tok, err := tokens.Issue(id, role, time.Hour)
		require.NoError(t, err)
		return tok
	}
	return &env{
		engine:  engine,
		clock:   clk,
		test:    test,
		student: issue(10, service.RoleStudent),
		other:   issue(11, service.RoleStudent),
		staff:   issue(1, service.RoleStaff),
	}
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (e *env) call(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (e *env) createStarted(t *testing.T) uuid.UUID {
	t.Helper()
	code, body := e.call(t, http.MethodPost, "/api/v1/attempts", e.student, gin.H{"test_id": e.test.ID})
	require.Equal(t, http.StatusCreated, code)
	a := decode[model.Attempt](t, body.Data)

	code, _ = e.call(t, http.MethodPost, "/api/v1/attempts/"+a.ID.String()+"/start", e.student, nil)
	require.Equal(t, http.StatusOK, code)
	return a.ID
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	code, _ := e.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRequiresToken(t *testing.T) {
	e := newEnv(t)
	code, body := e.call(t, http.MethodGet, "/api/v1/attempts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.ErrTokenRequired, body.Error.Code)
}

func TestPaper(t *testing.T) {
	e := newEnv(t)
	code, body := e.call(t, http.MethodGet, "/api/v1/tests/"+e.test.ID.String()+"/paper", e.student, nil)
	require.Equal(t, http.StatusOK, code)
	paper := decode[model.Test](t, body.Data)
	assert.Len(t, paper.Questions(), 2)

	code, _ = e.call(t, http.MethodGet, "/api/v1/tests/not-a-uuid/paper", e.student, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.call(t, http.MethodGet, "/api/v1/tests/"+uuid.NewString()+"/paper", e.student, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAttemptFlowOverREST(t *testing.T) {
	e := newEnv(t)
	id := e.createStarted(t)
	base := "/api/v1/attempts/" + id.String()
	plus := e.test.Questions()[0]

	code, body := e.call(t, http.MethodPost, base+"/answers", e.student, gin.H{"question_id": plus.ID, "answer": "12"})
	require.Equal(t, http.StatusOK, code)
	graded := decode[model.GradedAnswer](t, body.Data)
	assert.True(t, graded.IsCorrect)

	code, body = e.call(t, http.MethodPost, base+"/answers", e.student, gin.H{"question_id": "nope", "answer": "12"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, body.Error.Code)
	assert.Contains(t, body.Error.Fields, "question_id")

	code, body = e.call(t, http.MethodGet, base+"/result", e.student, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrNotCompleted, body.Error.Code)

	e.clock.Advance(time.Minute)
	code, body = e.call(t, http.MethodPost, base+"/pause", e.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 540, decode[model.PauseResult](t, body.Data).RemainingSeconds)

	code, _ = e.call(t, http.MethodPost, base+"/resume", e.student, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = e.call(t, http.MethodPost, base+"/end", e.student, nil)
	require.Equal(t, http.StatusOK, code)
	snap := decode[model.AnalyticsSnapshot](t, body.Data)
	assert.Equal(t, 2, snap.TotalQuestions)
	assert.Equal(t, 1, snap.TotalAttempted)
	assert.Equal(t, 100.0, snap.AccuracyPercentage)

	code, body = e.call(t, http.MethodGet, base+"/result", e.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, snap.MarksObtained, decode[model.AnalyticsSnapshot](t, body.Data).MarksObtained)

	code, body = e.call(t, http.MethodGet, "/api/v1/attempts", e.student, nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[struct {
		Attempts []model.Attempt `json:"attempts"`
	}](t, body.Data)
	assert.Len(t, list.Attempts, 1)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	id := e.createStarted(t)
	base := "/api/v1/attempts/" + id.String()

	code, body := e.call(t, http.MethodPost, "/api/v1/attempts", e.student, gin.H{"test_id": e.test.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrDuplicateAttempt, body.Error.Code)

	code, body = e.call(t, http.MethodPost, base+"/start", e.student, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrInvalidTransition, body.Error.Code)

	code, body = e.call(t, http.MethodGet, base, e.other, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrNotOwner, body.Error.Code)

	code, body = e.call(t, http.MethodPost, "/api/v1/staff/attempts/"+id.String()+"/extend", e.student, gin.H{"additional_minutes": 5})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrStaffAccessOnly, body.Error.Code)

	code, body = e.call(t, http.MethodPost, "/api/v1/staff/attempts/"+id.String()+"/extend", e.staff, gin.H{"additional_minutes": -5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrInvalidExtension, body.Error.Code)

	code, body = e.call(t, http.MethodPost, "/api/v1/staff/attempts/"+id.String()+"/extend", e.staff, gin.H{"additional_minutes": 307445734561825861})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, body.Error.Code)

	code, body = e.call(t, http.MethodPost, "/api/v1/staff/attempts/"+id.String()+"/extend", e.staff, gin.H{"additional_minutes": 5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 900, decode[model.ExtendResult](t, body.Data).RemainingSeconds)

	e.clock.Advance(time.Hour)
	code, body = e.call(t, http.MethodPost, base+"/answers", e.student, gin.H{"question_id": e.test.Questions()[0].ID, "answer": "12"})
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, response.ErrTestExpired, body.Error.Code)

	code, body = e.call(t, http.MethodGet, base, e.student, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AttemptStatusCompleted, decode[model.AttemptView](t, body.Data).Attempt.Status)

	code, _ = e.call(t, http.MethodGet, "/api/v1/attempts/"+uuid.NewString(), e.student, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAttemptStream(t *testing.T) {
	e := newEnv(t)
	id := e.createStarted(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + id.String() + "/stream?token=" + e.student
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var state ws.StateResponse
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, ws.EventState, state.Event)
	assert.Equal(t, model.AttemptStatusInProgress, state.Status)
	assert.Equal(t, 600, state.RemainingSeconds)

	div := e.test.Questions()[1]
	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: div.ID.String(), Answer: "3.50"}))
	var graded ws.GradedResponse
	require.NoError(t, conn.ReadJSON(&graded))
	assert.Equal(t, ws.EventGraded, graded.Event)
	assert.True(t, graded.Answer.IsCorrect)

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionPing}))
	var pong ws.PongResponse
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, ws.EventPong, pong.Event)

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionEnd}))
	var result ws.ResultResponse
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, ws.EventResult, result.Event)
	assert.Equal(t, 1, result.Result.CorrectAnswers)
}

func TestAttemptStreamRejectsOtherStudent(t *testing.T) {
	e := newEnv(t)
	id := e.createStarted(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + id.String() + "/stream?token=" + e.other
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAttemptStreamSurvivesMalformedFrame(t *testing.T) {
	e := newEnv(t)
	id := e.createStarted(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + id.String() + "/stream?token=" + e.student
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var state ws.StateResponse
	require.NoError(t, conn.ReadJSON(&state))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var wsErr ws.ErrorResponse
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, ws.EventError, wsErr.Event)
	assert.Equal(t, string(response.ErrValidation), wsErr.Code)

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionState}))
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, ws.EventState, state.Event)
}

func (e *env) dialStream(t *testing.T, srv *httptest.Server, id uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + id.String() + "/stream?token=" + e.student
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var state ws.StateResponse
	require.NoError(t, conn.ReadJSON(&state))
	require.Equal(t, ws.EventState, state.Event)
	return conn
}

func TestAttemptStreamValidatesAnswer(t *testing.T) {
	e := newEnv(t)
	id := e.createStarted(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	conn := e.dialStream(t, srv, id)
	defer conn.Close()

	div := e.test.Questions()[1]
	for _, answer := range []string{strings.Repeat("9", 65), "3.5\x00"} {
		require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: div.ID.String(), Answer: answer}))
		var wsErr ws.ErrorResponse
		require.NoError(t, conn.ReadJSON(&wsErr))
		assert.Equal(t, ws.EventError, wsErr.Event)
		assert.Equal(t, string(response.ErrValidation), wsErr.Code)
	}

	// Nothing was stored and the stream is still usable.
	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionState}))
	var state ws.StateResponse
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, ws.EventState, state.Event)
	assert.Equal(t, 0, state.Answered)

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionAnswer, QuestionID: div.ID.String(), Answer: "3.5"}))
	var graded ws.GradedResponse
	require.NoError(t, conn.ReadJSON(&graded))
	assert.True(t, graded.Answer.IsCorrect)
}

func TestAttemptStreamRateLimited(t *testing.T) {
	// The REST calls in createStarted and the upgrade spend three tokens.
	e := newLimitedEnv(t, middleware.NewRateLimiter(0.001, 4))
	id := e.createStarted(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	conn := e.dialStream(t, srv, id)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionPing}))
	var pong ws.PongResponse
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, ws.EventPong, pong.Event)

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionPing}))
	var wsErr ws.ErrorResponse
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, ws.EventError, wsErr.Event)
	assert.Equal(t, string(response.ErrRateLimitExceeded), wsErr.Code)
}
