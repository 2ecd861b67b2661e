package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/router-for-me/GenGateway/internal/interfaces"
)

// Settings are the deployment-level overrides supplied by a settings store.
// Empty fields mean "not set".
type Settings struct {
	ProjectID string
	Region    string
}

// EnvDefaults is the snapshot of environment fallback values taken once at startup.
type EnvDefaults struct {
	ProjectID string
	Region    string

	// ServiceAccountJSON is the raw service-account credential, if any.
	ServiceAccountJSON []byte
}

// GatewayConfig is the resolved configuration for one effective request.
type GatewayConfig struct {
	ProjectID string
	Region    string
}

var (
	projectEnvKeys = []string{"VERTEX_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT_ID"}
	regionEnvKeys  = []string{"VERTEX_LOCATION", "GOOGLE_CLOUD_LOCATION", "GCP_REGION"}
	saJSONEnvKeys  = []string{"GOOGLE_SERVICE_ACCOUNT_JSON", "GCP_SERVICE_ACCOUNT_KEY"}
	saPathEnvKeys  = []string{"GOOGLE_APPLICATION_CREDENTIALS"}

	// regionPattern keeps the region usable as a host label.
	regionPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// LoadEnvDefaults reads the fallback values through lookup, typically os.LookupEnv.
// A credentials file path is read from disk; inline JSON wins over a path.
func LoadEnvDefaults(lookup func(string) (string, bool)) (EnvDefaults, error) {
	first := func(keys []string) string {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed
				}
			}
		}
		return ""
	}
	env := EnvDefaults{
		ProjectID: first(projectEnvKeys),
		Region:    first(regionEnvKeys),
	}
	if raw := first(saJSONEnvKeys); raw != "" {
		env.ServiceAccountJSON = []byte(raw)
		return env, nil
	}
	if path := first(saPathEnvKeys); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return env, err
		}
		env.ServiceAccountJSON = data
	}
	return env, nil
}

// Resolve merges settings over env and applies the region default.
// A missing project identifier or a region that is not a lowercase host label is a ConfigError.
func Resolve(settings Settings, env EnvDefaults) (GatewayConfig, error) {
	out := GatewayConfig{
		ProjectID: strings.TrimSpace(settings.ProjectID),
		Region:    strings.TrimSpace(settings.Region),
	}
	if out.ProjectID == "" {
		out.ProjectID = strings.TrimSpace(env.ProjectID)
	}
	if out.Region == "" {
		out.Region = strings.TrimSpace(env.Region)
	}
	if out.Region == "" {
		out.Region = DefaultRegion
	}
	if out.ProjectID == "" {
		return GatewayConfig{}, &interfaces.ConfigError{Msg: "project id is not configured"}
	}
	if !regionPattern.MatchString(out.Region) {
		return GatewayConfig{}, &interfaces.ConfigError{Msg: fmt.Sprintf("region %q is invalid", out.Region)}
	}
	return out, nil
}
