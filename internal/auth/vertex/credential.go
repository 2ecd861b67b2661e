// Package vertex obtains short-lived bearer tokens for the upstream generative API.
// A Broker walks an ordered list of token sources (platform metadata identity, then a
// service-account signed assertion), caches the winning token until it nears expiry and
// collapses concurrent refreshes into a single exchange.
package vertex

import (
	"crypto/rsa"
	"encoding/json"
	"strings"

	"github.com/router-for-me/GenGateway/internal/interfaces"
)

// ServiceCredential is the immutable service-account identity used to sign assertions.
type ServiceCredential struct {
	ClientEmail string
	PrivateKey  *rsa.PrivateKey
	TokenURI    string
	ProjectID   string
}

type serviceAccountFile struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseServiceAccountJSON decodes a service-account key file.
// Empty input returns (nil, nil): the caller has no credential, which is not an error by itself.
func ParseServiceAccountJSON(raw []byte) (*ServiceCredential, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var sa serviceAccountFile
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, &interfaces.CredentialError{Msg: "service account json is invalid", Err: err}
	}
	email := strings.TrimSpace(sa.ClientEmail)
	if email == "" {
		return nil, &interfaces.CredentialError{Msg: "service account missing client_email"}
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		return nil, &interfaces.CredentialError{Msg: "service account missing private_key"}
	}
	key, err := ParsePrivateKey(sa.PrivateKey)
	if err != nil {
		return nil, &interfaces.CredentialError{Msg: "service account private_key is invalid", Err: err}
	}
	return &ServiceCredential{
		ClientEmail: email,
		PrivateKey:  key,
		TokenURI:    strings.TrimSpace(sa.TokenURI),
		ProjectID:   strings.TrimSpace(sa.ProjectID),
	}, nil
}
