package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORS())
	engine.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nope"})
	})
	return engine
}

func TestCORSPreflightAnywhere(t *testing.T) {
	engine := newCORSEngine()

	for _, path := range []string{"/", "/not-a-route"} {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodOptions, path, nil))
		if recorder.Code != http.StatusOK {
			t.Fatalf("OPTIONS %s status = %d, want 200", path, recorder.Code)
		}
		if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("OPTIONS %s allow-origin = %q", path, got)
		}
		if got := recorder.Header().Get("Access-Control-Max-Age"); got != corsMaxAge {
			t.Fatalf("OPTIONS %s max-age = %q", path, got)
		}
	}
}

func TestCORSHeadersOnErrorResponses(t *testing.T) {
	engine := newCORSEngine()

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Methods"); got != corsAllowMethods {
		t.Fatalf("allow-methods = %q", got)
	}
}
