package response

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFailEnvelopeCarriesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { Fail(c, http.StatusGone, ErrTestExpired) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrTestExpired, body.Error.Code)
	assert.Equal(t, GetMessage(ErrTestExpired), body.Error.Message)
	assert.Equal(t, "req-1", body.Metadata.RequestID)
	assert.Nil(t, body.Data)
}

func TestSuccessGeneratesRequestID(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Metadata.RequestID)
	assert.Nil(t, body.Error)
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrTokenRequired, ErrTokenInvalid, ErrForbidden, ErrStaffAccessOnly, ErrNotOwner,
		ErrValidation, ErrInvalidID, ErrNotFound, ErrConflict, ErrDuplicateAttempt,
		ErrInvalidTransition, ErrTestExpired, ErrInvalidExtension, ErrNotCompleted,
		ErrTestUnavailable, ErrRateLimitExceeded, ErrInternal,
	}
	for _, c := range codes {
		assert.NotEqual(t, GetMessage("unknown"), GetMessage(c), c)
	}
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { Success(c, http.StatusOK, nil) })

	for _, in := range []string{"", "has space", strings.Repeat("a", maxRequestIDLen+1)} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(HeaderRequestID, in)
		r.ServeHTTP(w, req)

		got := w.Header().Get(HeaderRequestID)
		assert.NotEqual(t, in, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	}
}

func TestAccessLogLevels(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestIDMiddleware(), AccessLog(zerolog.New(&buf)))
	r.GET("/ok", func(c *gin.Context) { Success(c, http.StatusOK, nil) })
	r.GET("/gone", func(c *gin.Context) { Fail(c, http.StatusGone, ErrTestExpired) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gone", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "/ok", first["path"])
	assert.NotEmpty(t, first["request_id"])
	assert.Equal(t, "warn", second["level"])
	assert.Equal(t, float64(http.StatusGone), second["status"])
}
