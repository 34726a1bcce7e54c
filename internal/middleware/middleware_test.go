package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRequestIDKeepsValidCallerID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rid := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderXRequestID, rid)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, rid, rec.Header().Get(HeaderXRequestID))
}

func TestRequestIDReplacesNonUUID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderXRequestID, "not-a-uuid'; DROP TABLE appointments;--")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	got := rec.Header().Get(HeaderXRequestID)
	_, err := uuid.Parse(got)
	assert.NoError(t, err, "a garbage id must be replaced with a fresh UUID")
}

func TestRecoveryTurnsPanicInto500Envelope(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/boom", func(c *gin.Context) { panic("handler exploded") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "internal server error", resp.Message)
	assert.NotEmpty(t, resp.TraceID)
	assert.NotContains(t, rec.Body.String(), "handler exploded")
}

func TestRateLimitRespondsWithEnvelopeAndRetryAfter(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	limiter := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 1})
	router.Use(limiter.RateLimit())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	resp := decodeErrorResponse(t, second)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "rate limit exceeded", resp.Message)
	assert.NotEmpty(t, resp.TraceID)
}

func TestSizeLimitRejectsOversizedBody(t *testing.T) {
	router := gin.New()
	router.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 64, MaxHeaderSize: 1 << 14}))
	router.POST("/appointments", func(c *gin.Context) { c.Status(http.StatusCreated) })

	body := strings.NewReader(strings.Repeat("x", 128))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments", body))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	assert.Contains(t, resp.Message, "request body exceeds")
}

func TestSizeLimitRejectsOversizedHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 1 << 20, MaxHeaderSize: 32}))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Padding", strings.Repeat("y", 128))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Contains(t, resp.Message, "request headers exceed")
}

func TestSizeLimitSkipsConfiguredPaths(t *testing.T) {
	router := gin.New()
	router.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 1, MaxHeaderSize: 1 << 14, SkipPaths: []string{"/bulk"}}))
	router.POST("/bulk", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	body := strings.NewReader(strings.Repeat("x", 512))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bulk", body))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}
