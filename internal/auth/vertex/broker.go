package vertex

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/GenGateway/internal/interfaces"
	"github.com/router-for-me/GenGateway/internal/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenMargin is the default expiry safety margin.
	DefaultTokenMargin = time.Minute

	refreshKey     = "token"
	refreshTimeout = 30 * time.Second
)

// Broker hands out bearer tokens, refreshing through its sources when the cache is stale.
type Broker struct {
	sources []TokenSource
	margin  time.Duration
	metrics *metrics.Collector
	now     func() time.Time

	mu     sync.RWMutex
	cached *oauth2.Token
	group  singleflight.Group
}

// BrokerOptions configures NewBroker.
type BrokerOptions struct {
	// Margin is how long before expiry a token stops being handed out.
	Margin time.Duration

	// Metrics records refresh attempts; nil disables recording.
	Metrics *metrics.Collector

	// Now overrides the clock.
	Now func() time.Time
}

// NewBroker returns a Broker trying sources in order on every refresh.
func NewBroker(sources []TokenSource, opts BrokerOptions) *Broker {
	if opts.Margin <= 0 {
		opts.Margin = DefaultTokenMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{sources: sources, margin: opts.Margin, metrics: opts.Metrics, now: opts.Now}
}

// Sources builds the ordered strategy list for a deployment: the metadata server is only
// consulted when no service credential was supplied.
func Sources(cred *ServiceCredential, metadataEnabled bool, metadataSource TokenSource, saSource TokenSource) []TokenSource {
	var out []TokenSource
	if cred == nil && metadataEnabled && metadataSource != nil {
		out = append(out, metadataSource)
	}
	if saSource != nil {
		out = append(out, saSource)
	}
	return out
}

// Token returns a bearer token valid for at least the safety margin.
// Concurrent callers facing a stale cache share a single refresh.
func (b *Broker) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := b.fresh(); tok != nil {
		return tok, nil
	}

	ch := b.group.DoChan(refreshKey, func() (any, error) {
		if tok := b.fresh(); tok != nil {
			return tok, nil
		}
		// Detached from the first caller so its cancellation does not fail the others.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		tok, err := b.refresh(refreshCtx)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.cached = tok
		b.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, &interfaces.TimeoutError{Err: ctx.Err()}
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

func (b *Broker) fresh() *oauth2.Token {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cached == nil || b.cached.AccessToken == "" {
		return nil
	}
	if b.cached.Expiry.Sub(b.now()) <= b.margin {
		return nil
	}
	return b.cached
}

func (b *Broker) refresh(ctx context.Context) (*oauth2.Token, error) {
	for _, source := range b.sources {
		tok, hit, err := source.FetchToken(ctx)
		if !hit {
			continue
		}
		b.metrics.RecordTokenRefresh(source.Name(), err)
		if err != nil {
			log.WithField("source", source.Name()).Errorf("vertex credentials: token refresh failed: %v", err)
			return nil, err
		}
		if tok.Expiry.IsZero() {
			bounded := *tok
			bounded.Expiry = b.now().Add(assertionLifetime)
			tok = &bounded
		}
		log.WithField("source", source.Name()).Debugf("vertex credentials: token refreshed, expires %s", tok.Expiry.Format(time.RFC3339))
		return tok, nil
	}
	return nil, &interfaces.CredentialError{Msg: "no service account credential configured"}
}
