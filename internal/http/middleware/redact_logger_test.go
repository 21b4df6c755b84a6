package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf) // plain JSON lines
	return &buf
}

func TestRedactingLogger_MasksAndScrubs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	buf := withCapturedLogger(t)

	// Simulate upstream RequestID middleware that sets the response header.
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-resp")
		c.Next()
	})
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-User-ID"}}))

	r.GET("/chat-sessions/:id/messages", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// Free-text and contact data in the query must never reach the log;
	// paging parameters stay readable.
	q := "content=I+stopped+taking+Gonal-F&email=a.b%2Btag@example.com&page=2"
	req := httptest.NewRequest(http.MethodGet, "/chat-sessions/abc/messages?"+q, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-User-ID", "u-123")
	// Header with identifiers that are pattern-scrubbed, not fully masked.
	req.Header.Set("X-Custom", "email a@b.com id=123e4567-e89b-12d3-a456-426614174000 phone 555-123-4567")
	req.Header.Set("X-Request-ID", "rid-req")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) {
		t.Fatalf("expected info log, got: %s", logs)
	}
	if !strings.Contains(logs, `"path":"/chat-sessions/:id/messages"`) {
		t.Fatalf("expected the route pattern as path, got: %s", logs)
	}
	// The response header wins over the request header.
	if !strings.Contains(logs, `"request_id":"rid-resp"`) {
		t.Fatalf("expected request_id from response header, got: %s", logs)
	}
	// Non-allowlisted query values are masked wholesale.
	if !strings.Contains(logs, `content=[MASKED]`) || !strings.Contains(logs, `email=[MASKED]`) {
		t.Fatalf("expected masked query values, got: %s", logs)
	}
	if strings.Contains(logs, "Gonal-F") || strings.Contains(logs, "example.com") {
		t.Fatalf("health or contact data leaked into the log: %s", logs)
	}
	// Allowlisted paging parameters keep their values.
	if !strings.Contains(logs, `page=2`) {
		t.Fatalf("expected paging parameter in clear, got: %s", logs)
	}
	// Header masking, built-in and custom.
	if !strings.Contains(logs, `"Authorization":"[REDACTED]"`) {
		t.Fatalf("Authorization must be masked: %s", logs)
	}
	if !strings.Contains(logs, `"Cookie":"[REDACTED]"`) {
		t.Fatalf("Cookie must be masked: %s", logs)
	}
	if !strings.Contains(logs, `"X-User-Id":"[REDACTED]"`) && !strings.Contains(logs, `"X-User-ID":"[REDACTED]"`) {
		t.Fatalf("X-User-ID must be masked: %s", logs)
	}
	// Pattern scrubbing inside a non-masked header.
	if !strings.Contains(logs, `"X-Custom":"email [REDACTED:email] id=[REDACTED:id] phone [REDACTED:phone]"`) {
		t.Fatalf("expected scrubbed X-Custom header, got: %s", logs)
	}
}

func TestRedactingLogger_SeverityAndRequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	buf := withCapturedLogger(t)

	// No response X-Request-ID this time.
	r.Use(RedactingLogger(RedactOptions{}))

	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	reqWarn := httptest.NewRequest(http.MethodGet, "/warn", nil)
	reqWarn.Header.Set("X-Request-ID", "rid-warn")
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, reqWarn)

	reqErr := httptest.NewRequest(http.MethodGet, "/error", nil)
	reqErr.Header.Set("X-Request-ID", "rid-err")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, reqErr)

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-warn"`) {
		t.Fatalf("warn log not found or missing request_id fallback: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"request_id":"rid-err"`) {
		t.Fatalf("error log not found or missing request_id fallback: %s", logs)
	}
}

func TestMaskQuery_UnparsableFallsBackToScrub(t *testing.T) {
	scrub := func(s string) string { return strings.ReplaceAll(s, "a@b.com", "[REDACTED:email]") }
	// "%zz" does not parse as a query string.
	got := maskQuery("note=a@b.com;%zz", scrub)
	if strings.Contains(got, "a@b.com") {
		t.Fatalf("unparsable query leaked raw value: %q", got)
	}
}
