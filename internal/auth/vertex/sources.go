package vertex

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/router-for-me/GenGateway/internal/interfaces"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

const (
	// CloudPlatformScope is requested for every token.
	CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	// assertionLifetime is also the assumed lifetime of a token issued without expires_in.
	assertionLifetime = time.Hour
	metadataTokenPath = "instance/service-accounts/default/token"
	metadataTimeout   = 3 * time.Second
)

// TokenSource is one credential strategy tried by the Broker.
// FetchToken returns hit=false with a nil error when the strategy does not apply or is
// unavailable, letting the Broker move on. A hit with an error is fatal for the request.
type TokenSource interface {
	Name() string
	FetchToken(ctx context.Context) (token *oauth2.Token, hit bool, err error)
}

// MetadataSource asks the platform metadata server for the attached identity's token.
type MetadataSource struct {
	client *metadata.Client
}

// NewMetadataSource builds a metadata token source using httpClient (nil for the default).
func NewMetadataSource(httpClient *http.Client) *MetadataSource {
	return &MetadataSource{client: metadata.NewClient(httpClient)}
}

func (s *MetadataSource) Name() string { return "metadata" }

// FetchToken never fails: any problem reaching or parsing the metadata server is a miss.
func (s *MetadataSource) FetchToken(ctx context.Context) (*oauth2.Token, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	raw, err := s.client.GetWithContext(reqCtx, metadataTokenPath)
	if err != nil {
		log.Debugf("vertex credentials: metadata token unavailable: %v", err)
		return nil, false, nil
	}
	tok, err := parseTokenResponse([]byte(raw), time.Now())
	if err != nil {
		log.Debugf("vertex credentials: metadata token unusable: %v", err)
		return nil, false, nil
	}
	return tok, true, nil
}

// ServiceAccountSource exchanges a self-signed RS256 assertion for a bearer token through
// the x/oauth2 JWT-bearer flow.
type ServiceAccountSource struct {
	cred          *ServiceCredential
	tokenEndpoint string
	httpClient    *http.Client
}

// NewServiceAccountSource builds the assertion strategy. tokenEndpoint overrides the
// credential's token_uri when non-empty; DefaultTokenEndpoint is the last resort.
func NewServiceAccountSource(cred *ServiceCredential, tokenEndpoint, defaultEndpoint string, httpClient *http.Client) *ServiceAccountSource {
	endpoint := strings.TrimSpace(tokenEndpoint)
	if endpoint == "" && cred != nil {
		endpoint = cred.TokenURI
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ServiceAccountSource{cred: cred, tokenEndpoint: endpoint, httpClient: httpClient}
}

func (s *ServiceAccountSource) Name() string { return "service_account" }

// FetchToken misses only when no credential is configured.
func (s *ServiceAccountSource) FetchToken(ctx context.Context) (*oauth2.Token, bool, error) {
	if s.cred == nil {
		return nil, false, nil
	}
	conf, err := s.jwtConfig()
	if err != nil {
		return nil, true, &interfaces.CredentialError{Msg: "encode private key failed", Err: err}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, true, &interfaces.CredentialError{
				Msg:    "token exchange rejected",
				Status: retrieveErr.Response.StatusCode,
				Body:   string(retrieveErr.Body),
			}
		}
		return nil, true, &interfaces.CredentialError{Msg: "token exchange failed", Err: err}
	}
	return tok, true, nil
}

// jwtConfig describes the assertion: iss=sub=client_email, aud=token endpoint, cloud-platform
// scope, one hour lifetime.
func (s *ServiceAccountSource) jwtConfig() (*jwt.Config, error) {
	der, err := x509.MarshalPKCS8PrivateKey(s.cred.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &jwt.Config{
		Email:      s.cred.ClientEmail,
		Subject:    s.cred.ClientEmail,
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		Scopes:     []string{CloudPlatformScope},
		TokenURL:   s.tokenEndpoint,
	}, nil
}

func parseTokenResponse(body []byte, issuedAt time.Time) (*oauth2.Token, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("token response is not json")
	}
	access := strings.TrimSpace(gjson.GetBytes(body, "access_token").String())
	if access == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	tokenType := gjson.GetBytes(body, "token_type").String()
	if tokenType == "" {
		tokenType = "Bearer"
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: tokenType}
	tok.Expiry = issuedAt.Add(assertionLifetime)
	if expiresIn := gjson.GetBytes(body, "expires_in").Int(); expiresIn > 0 {
		tok.Expiry = issuedAt.Add(time.Duration(expiresIn) * time.Second)
	}
	return tok, nil
}
