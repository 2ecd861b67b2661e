package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/watcher"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type settingsFile struct {
	ProjectID string `yaml:"project-id"`
	Region    string `yaml:"region"`
}

// FileStore serves settings from a YAML file and reloads them when the file changes.
type FileStore struct {
	path string

	mu       sync.RWMutex
	settings config.Settings
}

// NewFileStore loads path. A missing file yields empty settings so that the file can be
// created later and picked up by Watch.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file store: settings file path is required")
	}
	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("settings file %s does not exist yet, using environment defaults", path)
			return s, nil
		}
		return nil, fmt.Errorf("file store: read settings: %w", err)
	}
	if err = s.apply(data); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the most recently loaded settings.
func (s *FileStore) Lookup(context.Context) (config.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// Watch starts hot reload of the settings file until ctx is done or the watcher is stopped.
// An invalid rewrite keeps the previous settings.
func (s *FileStore) Watch(ctx context.Context) (*watcher.Watcher, error) {
	w, err := watcher.NewWatcher(func(_ string, data []byte) {
		if errApply := s.apply(data); errApply != nil {
			log.Errorf("failed to reload settings file: %v", errApply)
			return
		}
		log.Infof("settings file reloaded: %s", s.path)
	}, s.path)
	if err != nil {
		return nil, err
	}
	if err = w.Start(ctx); err != nil {
		_ = w.Stop()
		return nil, err
	}
	return w, nil
}

func (s *FileStore) apply(data []byte) error {
	var parsed settingsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("file store: parse settings: %w", err)
	}
	s.mu.Lock()
	s.settings = config.Settings{
		ProjectID: strings.TrimSpace(parsed.ProjectID),
		Region:    strings.TrimSpace(parsed.Region),
	}
	s.mu.Unlock()
	return nil
}
