package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsRoutesAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	r.GET("/chat-sessions/:id", func(c *gin.Context) {
		c.String(http.StatusOK, `{"id":"x"}`)
	})
	r.GET("/nobody", func(c *gin.Context) {
		c.Status(http.StatusNoContent) // no body, size stays -1
	})

	// Baselines, since collectors are process-global.
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/chat-sessions/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/missing", "404"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat-sessions/abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /chat-sessions/abc -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /missing -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nobody", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("GET /nobody -> %d", w.Code)
	}

	// The matched route is labeled by pattern, never by the raw session id.
	gotOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/chat-sessions/:id", "200"))
	if gotOK != baseOK+1 {
		t.Fatalf("pattern counter = %v, want %v", gotOK, baseOK+1)
	}
	if leak := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/chat-sessions/abc", "200")); leak != 0 {
		t.Fatalf("raw path leaked into labels: %v", leak)
	}

	// Unmatched routes fall back to the raw URL path.
	got404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/missing", "404"))
	if got404 != base404+1 {
		t.Fatalf("fallback counter = %v, want %v", got404, base404+1)
	}

	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v, want 0", inFlight)
	}
}
