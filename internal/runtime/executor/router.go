// Package executor routes normalized generation requests to the upstream Vertex AI
// generateContent API. It builds the provider request body and URL for each operation kind,
// wraps high-capability image synthesis in the rate-limit retry and fallback policy, and
// normalizes the provider response into an interfaces.GenerationResult.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/interfaces"
	"github.com/router-for-me/GenGateway/internal/logging"
	"github.com/router-for-me/GenGateway/internal/metrics"
	"github.com/router-for-me/GenGateway/internal/registry"
	log "github.com/sirupsen/logrus"
)

const (
	videoStartedMessage = "Video generation started"
	videoPendingMessage = "Video generation is still processing"
)

// Router dispatches requests to the upstream provider. It is safe for concurrent use.
type Router struct {
	httpClient       *http.Client
	globalEndpoint   string
	regionalEndpoint string
	metrics          *metrics.Collector
	sleep            Sleeper
	newID            func() string
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	HTTPClient *http.Client

	// GlobalEndpoint is the base URL of the global host.
	GlobalEndpoint string

	// RegionalEndpoint is the regional base URL; a "%s" verb receives the region.
	RegionalEndpoint string

	Metrics *metrics.Collector

	// Sleep overrides the backoff wait; tests use it to observe delays.
	Sleep Sleeper
}

// NewRouter returns a Router with defaults applied for unset options.
func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		httpClient:       opts.HTTPClient,
		globalEndpoint:   strings.TrimRight(strings.TrimSpace(opts.GlobalEndpoint), "/"),
		regionalEndpoint: strings.TrimRight(strings.TrimSpace(opts.RegionalEndpoint), "/"),
		metrics:          opts.Metrics,
		sleep:            opts.Sleep,
		newID:            uuid.NewString,
	}
	if r.httpClient == nil {
		r.httpClient = http.DefaultClient
	}
	if r.globalEndpoint == "" {
		r.globalEndpoint = config.DefaultGlobalEndpoint
	}
	if r.regionalEndpoint == "" {
		r.regionalEndpoint = config.DefaultRegionalEndpoint
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}
	return r
}

// Dispatch sends req upstream using token and cfg and returns the normalized result.
func (r *Router) Dispatch(ctx context.Context, req interfaces.GenerationRequest, token string, cfg config.GatewayConfig) (interfaces.GenerationResult, error) {
	if req == nil {
		return interfaces.GenerationResult{}, &interfaces.ValidationError{Msg: "request is required"}
	}
	if err := req.Validate(); err != nil {
		return interfaces.GenerationResult{}, err
	}

	switch typed := req.(type) {
	case interfaces.TextRequest:
		return r.generateText(ctx, nil, typed.Prompt, typed.SystemInstruction, token, cfg)
	case interfaces.MultimodalRequest:
		return r.generateText(ctx, typed.Images, typed.Prompt, typed.SystemInstruction, token, cfg)
	case interfaces.ImageSynthesisRequest:
		return r.generateImage(ctx, typed, token, cfg)
	case interfaces.VideoSynthesisRequest:
		name := fmt.Sprintf("projects/%s/locations/%s/operations/%s", cfg.ProjectID, cfg.Region, r.newID())
		logWithRequestID(ctx).Infof("video generation requested, returning pending operation %s", name)
		return interfaces.OperationResult(interfaces.Operation{Name: name}, videoStartedMessage), nil
	case interfaces.VideoStatusRequest:
		return interfaces.OperationResult(interfaces.Operation{Name: strings.TrimSpace(typed.OperationName)}, videoPendingMessage), nil
	default:
		return interfaces.GenerationResult{}, &interfaces.ValidationError{Msg: fmt.Sprintf("unsupported operation kind %q", req.Kind())}
	}
}

func (r *Router) generateText(ctx context.Context, images []interfaces.InlineImage, prompt, systemInstruction, token string, cfg config.GatewayConfig) (interfaces.GenerationResult, error) {
	profile := registry.TextProfile()
	body := buildContentsBody(images, prompt, systemInstruction)
	data, err := r.send(ctx, r.modelURL(profile, cfg), body, token, profile.ModelID)
	if err != nil {
		return interfaces.GenerationResult{}, err
	}
	return interfaces.TextResult(ExtractText(data), profile.ModelID), nil
}

func (r *Router) generateImage(ctx context.Context, req interfaces.ImageSynthesisRequest, token string, cfg config.GatewayConfig) (interfaces.GenerationResult, error) {
	primary, fallback := registry.Resolve(req.Quality)

	var (
		data []byte
		used = primary
		err  error
	)
	if primary == fallback {
		data, err = r.send(ctx, r.modelURL(primary, cfg), buildImageBody(req, primary), token, primary.ModelID)
	} else {
		data, used, err = r.sendWithFallback(ctx, req, primary, fallback, token, cfg)
	}
	if err != nil {
		return interfaces.GenerationResult{}, err
	}
	image, err := ExtractImage(data)
	if err != nil {
		return interfaces.GenerationResult{}, err
	}
	return interfaces.ImageResult(image, used.ModelID), nil
}

// send performs one POST and returns the body of a 2xx response. Non-2xx responses become
// *interfaces.UpstreamError; a cancelled or expired ctx becomes *interfaces.TimeoutError.
func (r *Router) send(ctx context.Context, url string, body []byte, token, model string) ([]byte, error) {
	if errCtx := ctx.Err(); errCtx != nil {
		return nil, &interfaces.TimeoutError{Err: errCtx}
	}
	httpReq, errNewReq := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if errNewReq != nil {
		return nil, fmt.Errorf("executor: build request: %w", errNewReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	entry := logWithRequestID(ctx).WithField("model", model)
	httpResp, errDo := r.httpClient.Do(httpReq)
	if errDo != nil {
		r.metrics.RecordUpstreamAttempt(model, 0)
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, &interfaces.TimeoutError{Err: errCtx}
		}
		return nil, fmt.Errorf("executor: upstream request failed: %w", errDo)
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("executor: close response body error: %v", errClose)
		}
	}()

	data, errRead := io.ReadAll(httpResp.Body)
	r.metrics.RecordUpstreamAttempt(model, httpResp.StatusCode)
	if errRead != nil {
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, &interfaces.TimeoutError{Err: errCtx}
		}
		return nil, fmt.Errorf("executor: read response: %w", errRead)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		entry.WithField("status", httpResp.StatusCode).Debugf("request error, error message: %s", summarizeBody(data))
		return nil, &interfaces.UpstreamError{Status: httpResp.StatusCode, Body: string(data)}
	}
	entry.WithField("status", httpResp.StatusCode).Debug("upstream call succeeded")
	return data, nil
}

func logWithRequestID(ctx context.Context) *log.Entry {
	if id := logging.GetRequestID(ctx); id != "" {
		return log.WithField("request_id", id)
	}
	return log.NewEntry(log.StandardLogger())
}

func summarizeBody(data []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(data))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
