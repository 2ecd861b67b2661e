// Package gateway implements the single-envelope HTTP entry point. A request names its
// operation in the "endpoint" field; the handler validates it, resolves the effective
// deployment config, obtains a bearer token and hands the request to the router.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/interfaces"
	"github.com/router-for-me/GenGateway/internal/logging"
	"github.com/router-for-me/GenGateway/internal/metrics"
	"github.com/router-for-me/GenGateway/internal/registry"
	"github.com/router-for-me/GenGateway/internal/store"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// ModelHeader names the upstream model that produced an image response.
const ModelHeader = "X-Gateway-Model"

// DefaultMaxBodyBytes caps the request body. Reference images arrive inline as base64.
const DefaultMaxBodyBytes int64 = 32 << 20

// TokenProvider hands out bearer tokens for the upstream provider.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Dispatcher sends a validated request upstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, req interfaces.GenerationRequest, token string, cfg config.GatewayConfig) (interfaces.GenerationResult, error)
}

// Handler serves the gateway envelope.
type Handler struct {
	tokens   TokenProvider
	router   Dispatcher
	settings store.SettingsStore
	env      config.EnvDefaults
	timeout  time.Duration
	maxBody  int64
	metrics  *metrics.Collector
}

// Options configures NewHandler. Settings and Metrics may be nil.
type Options struct {
	Tokens       TokenProvider
	Router       Dispatcher
	Settings     store.SettingsStore
	Env          config.EnvDefaults
	Timeout      time.Duration
	MaxBodyBytes int64
	Metrics      *metrics.Collector
}

// NewHandler returns a Handler. A non-positive Timeout or MaxBodyBytes uses the default.
func NewHandler(opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(config.DefaultRequestTimeout) * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		tokens:   opts.Tokens,
		router:   opts.Router,
		settings: opts.Settings,
		env:      opts.Env,
		timeout:  opts.Timeout,
		maxBody:  opts.MaxBodyBytes,
		metrics:  opts.Metrics,
	}
}

// Health answers GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthBody())
}

// Handle answers POST / and POST /v1/gateway.
func (h *Handler) Handle(c *gin.Context) {
	start := time.Now()
	endpoint := ""
	defer func() {
		h.metrics.RecordRequest(endpoint, c.Writer.Status(), time.Since(start))
	}()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body too large", "details": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body", "details": err.Error()})
		return
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	endpoint, err = interfaces.NormalizeEndpoint(gjson.GetBytes(raw, "endpoint").String())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if interfaces.IsHealthEndpoint(endpoint) {
		c.JSON(http.StatusOK, healthBody())
		return
	}

	req, err := interfaces.ParseRequest(endpoint, raw)
	if err != nil {
		h.writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	cfg, err := config.Resolve(h.lookupSettings(ctx), h.env)
	if err != nil {
		h.writeError(c, err)
		return
	}

	tok, err := h.tokens.Token(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.router.Dispatch(ctx, req, tok.AccessToken, cfg)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeResult(c, result)
}

// lookupSettings reads the settings store. A failing store is treated as empty so the
// environment fallback still applies.
func (h *Handler) lookupSettings(ctx context.Context) config.Settings {
	if h.settings == nil {
		return config.Settings{}
	}
	settings, err := h.settings.Lookup(ctx)
	if err != nil {
		log.WithField("request_id", logging.GetRequestID(ctx)).WithError(err).Warn("gateway: settings lookup failed, using environment defaults")
		return config.Settings{}
	}
	return settings
}

func (h *Handler) writeError(c *gin.Context, err error) {
	msg := interfaces.ToErrorMessage(err)
	entry := log.WithFields(log.Fields{
		"request_id": logging.GetGinRequestID(c),
		"status":     msg.StatusCode,
	})
	if msg.StatusCode >= http.StatusInternalServerError {
		entry.WithError(err).Error("gateway: request failed")
	} else {
		entry.WithError(err).Debug("gateway: request rejected")
	}

	body := gin.H{"error": msg.Error}
	if details := strings.TrimSpace(msg.Details); details != "" {
		body["details"] = details
	}
	c.JSON(msg.StatusCode, body)
}

func writeResult(c *gin.Context, result interfaces.GenerationResult) {
	switch result.Kind {
	case interfaces.ResultText:
		c.JSON(http.StatusOK, gin.H{"text": result.Text})
	case interfaces.ResultImage:
		if result.Model != "" {
			c.Header(ModelHeader, result.Model)
		}
		c.JSON(http.StatusOK, gin.H{"image": result.Image})
	case interfaces.ResultOperation:
		c.JSON(http.StatusOK, gin.H{"operation": result.Operation, "message": result.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "empty generation result"})
	}
}

func healthBody() gin.H {
	return gin.H{
		"status":    "ok",
		"endpoints": interfaces.Endpoints,
		"tiers":     registry.Tiers(),
	}
}
