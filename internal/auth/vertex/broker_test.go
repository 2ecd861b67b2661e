package vertex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/GenGateway/internal/interfaces"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newTokenServer(t *testing.T, delay time.Duration, status int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":3600,"token_type":"Bearer"}`, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestCredential(t *testing.T) *ServiceCredential {
	t.Helper()
	cred, err := ParseServiceAccountJSON(serviceAccountJSON(t, ""))
	if err != nil {
		t.Fatalf("ParseServiceAccountJSON() error = %v", err)
	}
	return cred
}

func TestServiceAccountSource_SignsAndExchangesAssertion(t *testing.T) {
	var gotGrant, gotAssertion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotGrant = r.PostForm.Get("grant_type")
		gotAssertion = r.PostForm.Get("assertion")
		_, _ = w.Write([]byte(`{"access_token":"ya29.abc","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	source := NewServiceAccountSource(newTestCredential(t), server.URL, "", server.Client())

	before := time.Now()
	tok, hit, err := source.FetchToken(context.Background())
	after := time.Now()
	if err != nil || !hit {
		t.Fatalf("FetchToken() = (_, %v, %v)", hit, err)
	}
	if tok.AccessToken != "ya29.abc" {
		t.Fatalf("AccessToken = %q", tok.AccessToken)
	}
	if tok.Expiry.Before(before.Add(3599*time.Second)) || tok.Expiry.After(after.Add(3599*time.Second)) {
		t.Fatalf("Expiry = %v", tok.Expiry)
	}
	if gotGrant != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
		t.Fatalf("grant_type = %q", gotGrant)
	}

	parsed, err := jwt.Parse(gotAssertion, func(token *jwt.Token) (any, error) {
		return &testPrivateKey(t).PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("assertion does not verify: %v", err)
	}
	if typ, _ := parsed.Header["typ"].(string); typ != "JWT" {
		t.Fatalf("typ header = %v", parsed.Header["typ"])
	}
	claims := parsed.Claims.(jwt.MapClaims)
	email := "gateway@sa-project.iam.gserviceaccount.com"
	if claims["iss"] != email || claims["sub"] != email {
		t.Fatalf("iss/sub = %v/%v", claims["iss"], claims["sub"])
	}
	if claims["aud"] != server.URL {
		t.Fatalf("aud = %v, want %s", claims["aud"], server.URL)
	}
	if claims["scope"] != CloudPlatformScope {
		t.Fatalf("scope = %v", claims["scope"])
	}
	// iat is backdated by up to ten seconds for clock skew; the lifetime stays one hour.
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)
	if int64(iat) < before.Add(-11*time.Second).Unix() || int64(iat) > after.Unix() {
		t.Fatalf("iat = %v, issued between %v and %v", iat, before.Unix(), after.Unix())
	}
	if int64(exp-iat) != 3600 {
		t.Fatalf("exp - iat = %v, want 3600", exp-iat)
	}
}

func TestServiceAccountSource_EndpointPrecedence(t *testing.T) {
	cred := &ServiceCredential{ClientEmail: "a@b", TokenURI: "https://from-cred/token"}
	if got := NewServiceAccountSource(cred, "https://override/token", "https://default/token", nil).tokenEndpoint; got != "https://override/token" {
		t.Fatalf("override endpoint = %q", got)
	}
	if got := NewServiceAccountSource(cred, "", "https://default/token", nil).tokenEndpoint; got != "https://from-cred/token" {
		t.Fatalf("credential endpoint = %q", got)
	}
	if got := NewServiceAccountSource(&ServiceCredential{}, "", "https://default/token", nil).tokenEndpoint; got != "https://default/token" {
		t.Fatalf("default endpoint = %q", got)
	}
}

func TestServiceAccountSource_RejectedExchange(t *testing.T) {
	server := newTokenServer(t, 0, http.StatusBadRequest)
	source := NewServiceAccountSource(newTestCredential(t), server.URL, "", server.Client())

	_, hit, err := source.FetchToken(context.Background())
	if !hit {
		t.Fatalf("expected hit for configured credential")
	}
	var credErr *interfaces.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if credErr.Status != http.StatusBadRequest || !strings.Contains(credErr.Body, "invalid_grant") {
		t.Fatalf("CredentialError = %+v", credErr)
	}
}

func TestServiceAccountSource_TransportFailure(t *testing.T) {
	server := newTokenServer(t, 0, http.StatusOK)
	endpoint := server.URL
	server.Close()

	source := NewServiceAccountSource(newTestCredential(t), endpoint, "", nil)
	_, hit, err := source.FetchToken(context.Background())
	var credErr *interfaces.CredentialError
	if !hit || !errors.As(err, &credErr) {
		t.Fatalf("FetchToken() = (_, %v, %v), want CredentialError hit", hit, err)
	}
	if credErr.Status != 0 || credErr.Err == nil {
		t.Fatalf("CredentialError = %+v, want wrapped transport error", credErr)
	}
}

func TestServiceAccountSource_NoCredentialIsMiss(t *testing.T) {
	source := NewServiceAccountSource(nil, "", "https://default/token", nil)
	tok, hit, err := source.FetchToken(context.Background())
	if tok != nil || hit || err != nil {
		t.Fatalf("FetchToken() = (%v, %v, %v), want miss", tok, hit, err)
	}
}

func TestBroker_CachesUntilMargin(t *testing.T) {
	server := newTokenServer(t, 0, http.StatusOK)
	now := time.Now()
	clock := func() time.Time { return now }
	source := NewServiceAccountSource(newTestCredential(t), server.URL, "", server.Client())
	broker := NewBroker([]TokenSource{source}, BrokerOptions{Margin: 5 * time.Minute, Now: clock})

	first, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	second, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if first.AccessToken != second.AccessToken || server.calls.Load() != 1 {
		t.Fatalf("expected cached token, calls = %d", server.calls.Load())
	}

	// 56 minutes later the token has 4 minutes left, inside the 5 minute margin.
	now = now.Add(56 * time.Minute)
	third, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if third.AccessToken == first.AccessToken || server.calls.Load() != 2 {
		t.Fatalf("expected refresh inside margin, got %q calls = %d", third.AccessToken, server.calls.Load())
	}
}

func TestBroker_ConcurrentRefreshIsSingleFlight(t *testing.T) {
	server := newTokenServer(t, 150*time.Millisecond, http.StatusOK)
	source := NewServiceAccountSource(newTestCredential(t), server.URL, "", server.Client())
	broker := NewBroker([]TokenSource{source}, BrokerOptions{})

	const callers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tok, err := broker.Token(context.Background())
			errs[i] = err
			if tok != nil {
				tokens[i] = tok.AccessToken
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if got := server.calls.Load(); got != 1 {
		t.Fatalf("token exchanges = %d, want 1", got)
	}
	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != "token-1" {
			t.Fatalf("caller %d token = %q", i, tokens[i])
		}
	}
}

func TestBroker_NoSourceHitIsCredentialError(t *testing.T) {
	broker := NewBroker([]TokenSource{NewServiceAccountSource(nil, "", "https://default/token", nil)}, BrokerOptions{})
	_, err := broker.Token(context.Background())
	var credErr *interfaces.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
}

type staticSource struct {
	name  string
	token *oauth2.Token
	hit   bool
	err   error
	calls int
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) FetchToken(context.Context) (*oauth2.Token, bool, error) {
	s.calls++
	return s.token, s.hit, s.err
}

func TestBroker_FallsThroughMissesInOrder(t *testing.T) {
	miss := &staticSource{name: "metadata"}
	hit := &staticSource{name: "service_account", hit: true, token: &oauth2.Token{AccessToken: "sa", Expiry: time.Now().Add(time.Hour)}}
	never := &staticSource{name: "never", hit: true, token: &oauth2.Token{AccessToken: "never"}}

	broker := NewBroker([]TokenSource{miss, hit, never}, BrokerOptions{})
	tok, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "sa" || miss.calls != 1 || never.calls != 0 {
		t.Fatalf("token = %q, calls = %d/%d", tok.AccessToken, miss.calls, never.calls)
	}
}

func TestBroker_TokenWithoutExpiryIsBounded(t *testing.T) {
	now := time.Now()
	src := &staticSource{name: "s", hit: true, token: &oauth2.Token{AccessToken: "t"}}
	broker := NewBroker([]TokenSource{src}, BrokerOptions{Now: func() time.Time { return now }})

	tok, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if !tok.Expiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("Expiry = %v, want one hour after refresh", tok.Expiry)
	}
	if !src.token.Expiry.IsZero() {
		t.Fatalf("source token was mutated")
	}

	now = now.Add(59*time.Minute + 30*time.Second)
	if _, err = broker.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("calls = %d, want a refresh once the bounded expiry nears", src.calls)
	}
}

func TestBroker_InvalidateForcesRefresh(t *testing.T) {
	src := &staticSource{name: "s", hit: true, token: &oauth2.Token{AccessToken: "t", Expiry: time.Now().Add(time.Hour)}}
	broker := NewBroker([]TokenSource{src}, BrokerOptions{})
	if _, err := broker.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	broker.Invalidate()
	if _, err := broker.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("calls = %d, want 2", src.calls)
	}
}

func TestSources_MetadataOnlyWithoutCredential(t *testing.T) {
	md := &staticSource{name: "metadata"}
	sa := &staticSource{name: "service_account"}

	if got := Sources(nil, true, md, sa); len(got) != 2 || got[0] != md {
		t.Fatalf("Sources(nil cred) = %v", got)
	}
	if got := Sources(&ServiceCredential{}, true, md, sa); len(got) != 1 || got[0] != sa {
		t.Fatalf("Sources(cred) = %v", got)
	}
	if got := Sources(nil, false, md, sa); len(got) != 1 || got[0] != sa {
		t.Fatalf("Sources(metadata disabled) = %v", got)
	}
}

func TestMetadataSource(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/computeMetadata/v1/instance/service-accounts/default/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Metadata-Flavor", "Google")
		_, _ = w.Write([]byte(`{"access_token":"md-token","expires_in":1800,"token_type":"Bearer"}`))
	}))
	defer server.Close()
	t.Setenv("GCE_METADATA_HOST", strings.TrimPrefix(server.URL, "http://"))

	tok, hit, err := NewMetadataSource(server.Client()).FetchToken(context.Background())
	if err != nil || !hit {
		t.Fatalf("FetchToken() = (_, %v, %v)", hit, err)
	}
	if tok.AccessToken != "md-token" || hits.Load() == 0 {
		t.Fatalf("token = %+v", tok)
	}
}

func TestParseTokenResponse_DefaultsExpiry(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	tok, err := parseTokenResponse([]byte(`{"access_token":"x"}`), issued)
	if err != nil {
		t.Fatalf("parseTokenResponse() error = %v", err)
	}
	if !tok.Expiry.Equal(issued.Add(time.Hour)) {
		t.Fatalf("Expiry = %v", tok.Expiry)
	}
}

func TestMetadataSource_FailureIsMiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()
	t.Setenv("GCE_METADATA_HOST", strings.TrimPrefix(server.URL, "http://"))

	tok, hit, err := NewMetadataSource(server.Client()).FetchToken(context.Background())
	if tok != nil || hit || err != nil {
		t.Fatalf("FetchToken() = (%v, %v, %v), want miss", tok, hit, err)
	}
}
