package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/GenGateway/internal/api/handlers/gateway"
	"github.com/router-for-me/GenGateway/internal/auth/vertex"
	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/logging"
	"github.com/router-for-me/GenGateway/internal/metrics"
	"github.com/router-for-me/GenGateway/internal/registry"
	"github.com/router-for-me/GenGateway/internal/runtime/executor"
	"golang.org/x/oauth2"
)

const (
	textResponse  = `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`
	imageResponse = `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"iVBORw0KGgo="}}]}}]}`
)

type fixedSource struct{}

func (fixedSource) Name() string { return "fixed" }

func (fixedSource) FetchToken(context.Context) (*oauth2.Token, bool, error) {
	return &oauth2.Token{AccessToken: "test-token", Expiry: time.Now().Add(time.Hour)}, true, nil
}

type providerStub struct {
	*httptest.Server

	mu     sync.Mutex
	paths  []string
	bodies []string
}

// newProviderStub answers with status for every call, or 200 with okBody.
func newProviderStub(t *testing.T, status int, okBody string) *providerStub {
	t.Helper()
	p := &providerStub{}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.paths = append(p.paths, r.URL.Path)
		p.bodies = append(p.bodies, string(data))
		p.mu.Unlock()
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, okBody)
			return
		}
		_, _ = io.WriteString(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *providerStub) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...), append([]string(nil), p.bodies...)
}

func newTestServer(t *testing.T, global, regional *providerStub, env config.EnvDefaults) (*Server, *metrics.Collector) {
	t.Helper()

	cfg := config.Default()
	cfg.Port = 0
	collector := metrics.NewCollector("gengateway")
	router := executor.NewRouter(executor.RouterOptions{
		GlobalEndpoint:   global.URL,
		RegionalEndpoint: regional.URL,
		Metrics:          collector,
		Sleep:            func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	broker := vertex.NewBroker([]vertex.TokenSource{fixedSource{}}, vertex.BrokerOptions{Metrics: collector})
	handler := gateway.NewHandler(gateway.Options{
		Tokens:  broker,
		Router:  router,
		Env:     env,
		Timeout: 5 * time.Second,
		Metrics: collector,
	})
	return NewServer(cfg, handler, collector), collector
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(method, path, strings.NewReader(body)))
	return recorder
}

func TestServer_GenerateContentEndToEnd(t *testing.T) {
	global := newProviderStub(t, http.StatusOK, textResponse)
	regional := newProviderStub(t, http.StatusOK, textResponse)
	s, _ := newTestServer(t, global, regional, config.EnvDefaults{ProjectID: "demo"})

	for _, path := range []string{"/", "/v1/gateway"} {
		recorder := do(t, s, http.MethodPost, path, `{"endpoint":"generate-content","prompt":"hello"}`)
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, recorder.Code, recorder.Body.String())
		}
		if strings.TrimSpace(recorder.Body.String()) != `{"text":"hi"}` {
			t.Fatalf("%s: body = %s", path, recorder.Body.String())
		}
		if recorder.Header().Get(logging.RequestIDHeader) == "" {
			t.Fatalf("%s: missing request id header", path)
		}
		if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("%s: missing CORS header", path)
		}
	}

	paths, _ := regional.snapshot()
	want := "/v1/projects/demo/locations/us-central1/publishers/google/models/" + registry.TextModel + ":generateContent"
	if len(paths) != 2 || paths[0] != want {
		t.Fatalf("regional paths = %v, want %q", paths, want)
	}
}

func TestServer_StyledImageFallsBackAfterRateLimits(t *testing.T) {
	global := newProviderStub(t, http.StatusTooManyRequests, "")
	regional := newProviderStub(t, http.StatusOK, imageResponse)
	s, _ := newTestServer(t, global, regional, config.EnvDefaults{ProjectID: "demo", Region: "europe-west4"})

	recorder := do(t, s, http.MethodPost, "/", `{"endpoint":"generate-styled-image","prompt":"red sneaker","imageUrls":[],"quality":"hd"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["image"] != "data:image/png;base64,iVBORw0KGgo=" {
		t.Fatalf("image = %q", body["image"])
	}
	if got := recorder.Header().Get(gateway.ModelHeader); got != registry.BaselineImageModel {
		t.Fatalf("model header = %q, want fallback model", got)
	}

	globalPaths, globalBodies := global.snapshot()
	if len(globalPaths) != 4 {
		t.Fatalf("global calls = %d, want 4", len(globalPaths))
	}
	if !strings.Contains(globalPaths[0], "/locations/global/publishers/google/models/"+registry.ProImageModel) {
		t.Fatalf("global path = %q", globalPaths[0])
	}
	if !strings.Contains(globalBodies[0], `"imageSize":"1K"`) {
		t.Fatalf("primary body lacks imageSize: %s", globalBodies[0])
	}

	regionalPaths, regionalBodies := regional.snapshot()
	if len(regionalPaths) != 1 || !strings.Contains(regionalPaths[0], "/locations/europe-west4/publishers/google/models/"+registry.BaselineImageModel) {
		t.Fatalf("regional paths = %v", regionalPaths)
	}
	if strings.Contains(regionalBodies[0], "imageSize") {
		t.Fatalf("fallback body carries imageSize: %s", regionalBodies[0])
	}

	metricsBody := do(t, s, http.MethodGet, "/metrics", "").Body.String()
	if !strings.Contains(metricsBody, `gengateway_fallbacks_total{reason="rate_limited"} 1`) {
		t.Fatalf("fallback not recorded in metrics:\n%s", metricsBody)
	}
	if !strings.Contains(metricsBody, `gengateway_upstream_retries_total{model="`+registry.ProImageModel+`"} 3`) {
		t.Fatalf("retries not recorded in metrics")
	}
}

func TestServer_MissingProjectAndHealth(t *testing.T) {
	global := newProviderStub(t, http.StatusOK, textResponse)
	regional := newProviderStub(t, http.StatusOK, textResponse)
	s, _ := newTestServer(t, global, regional, config.EnvDefaults{})

	recorder := do(t, s, http.MethodPost, "/", `{"endpoint":"generate-content","prompt":"hello"}`)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", recorder.Code)
	}

	recorder = do(t, s, http.MethodGet, "/health", "")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"status":"ok"`) {
		t.Fatalf("health: %d %s", recorder.Code, recorder.Body.String())
	}

	if paths, _ := regional.snapshot(); len(paths) != 0 {
		t.Fatalf("provider called without a project: %v", paths)
	}
}

func TestServer_PreflightAndBadBody(t *testing.T) {
	global := newProviderStub(t, http.StatusOK, textResponse)
	regional := newProviderStub(t, http.StatusOK, textResponse)
	s, _ := newTestServer(t, global, regional, config.EnvDefaults{ProjectID: "demo"})

	recorder := do(t, s, http.MethodOptions, "/v1/gateway", "")
	if recorder.Code != http.StatusOK || recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", recorder.Code, recorder.Header())
	}

	recorder = do(t, s, http.MethodPost, "/", `not json`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("error response lacks CORS header")
	}
}

func TestServer_Addr(t *testing.T) {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9999
	s := NewServer(cfg, gateway.NewHandler(gateway.Options{}), nil)
	if s.Addr() != "127.0.0.1:9999" {
		t.Fatalf("addr = %q", s.Addr())
	}
	if recorder := do(t, s, http.MethodGet, "/metrics", ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("/metrics without collector = %d, want 404", recorder.Code)
	}
}
