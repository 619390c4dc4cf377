package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"analyzehub/internal/config"
)

// ConfigFileStore keeps key-value pairs in the appConfig section of
// config.json. Every write rewrites the file.
type ConfigFileStore struct {
	loader *config.ConfigLoader
	mu     sync.Mutex
}

func NewConfigFileStore(loader *config.ConfigLoader) (*ConfigFileStore, error) {
	if loader == nil {
		return nil, errors.New("config loader is nil")
	}

	store := &ConfigFileStore{loader: loader}
	if err := store.ensureFileExists(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ConfigFileStore) Close() error { return nil }

func (s *ConfigFileStore) GetConfig(key string) (string, error) {
	if key == "" {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	if cfg.AppConfigKV == nil {
		return "", nil
	}
	val := cfg.AppConfigKV[key]
	if val == nil {
		return "", nil
	}
	switch v := val.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func (s *ConfigFileStore) SetConfig(key, value string) error {
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	if cfg.AppConfigKV == nil {
		cfg.AppConfigKV = make(map[string]interface{})
	}
	cfg.AppConfigKV[key] = value
	return s.loader.Save(cfg)
}

func (s *ConfigFileStore) SetConfigBool(key string, value bool) error {
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	if cfg.AppConfigKV == nil {
		cfg.AppConfigKV = make(map[string]interface{})
	}
	cfg.AppConfigKV[key] = value
	return s.loader.Save(cfg)
}

func (s *ConfigFileStore) ensureFileExists() error {
	path := s.loader.GetPath()
	if path == "" {
		return errors.New("config path is empty")
	}

	_, statErr := os.Stat(path)
	if statErr == nil {
		return nil
	}
	if !os.IsNotExist(statErr) {
		return fmt.Errorf("failed to stat config file: %w", statErr)
	}

	if err := s.loader.Save(config.NewAppConfig()); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	return nil
}

func (s *ConfigFileStore) loadLocked() (*config.AppConfig, error) {
	if err := s.ensureFileExists(); err != nil {
		return nil, err
	}

	cfg, err := s.loader.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
