package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const (
	MaxRolesPerSet = 3
	// MaxRoleSets leaves room for the deny button within a message's five
	// rows of five buttons.
	MaxRoleSets = 24
)

var (
	ErrEmptyRoleSet     = errors.New("role set needs at least one role")
	ErrRoleSetTooLarge  = fmt.Errorf("role set accepts at most %d roles", MaxRolesPerSet)
	ErrDuplicateRoleSet = errors.New("role set already configured")
	ErrTooManyRoleSets  = fmt.Errorf("at most %d role sets can be configured", MaxRoleSets)
)

// Store maps guild ids to their configuration. Every mutation goes through
// Mutate, which rewrites the whole state file before returning.
type Store struct {
	mu     sync.Mutex
	path   string
	guilds map[string]*GuildConfig
	logger *zap.Logger
}

// Load opens the state file at path. A missing file yields an empty store.
func Load(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		guilds: make(map[string]*GuildConfig),
		logger: logger,
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.guilds); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	for id, cfg := range s.guilds {
		if cfg == nil {
			delete(s.guilds, id)
		}
	}
	return s, nil
}

// Get returns a copy of the guild's configuration.
func (s *Store) Get(guildID string) (GuildConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.guilds[guildID]
	if !ok {
		return GuildConfig{}, false
	}
	return cfg.clone(), true
}

// Update merges the set fields of patch into the guild's record.
func (s *Store) Update(guildID string, patch GuildPatch) GuildConfig {
	cfg, _ := s.Mutate(guildID, func(cfg *GuildConfig) error {
		patch.apply(cfg)
		return nil
	})
	return cfg
}

func (s *Store) AddVerifyRole(guildID string, entry VerifyRole) (GuildConfig, error) {
	roles := dedupe(entry.RoleIDs)
	if len(roles) == 0 {
		return GuildConfig{}, ErrEmptyRoleSet
	}
	if len(roles) > MaxRolesPerSet {
		return GuildConfig{}, ErrRoleSetTooLarge
	}
	entry = VerifyRole{RoleIDs: roles, Label: entry.Label}

	return s.Mutate(guildID, func(cfg *GuildConfig) error {
		for _, existing := range cfg.VerifyRoles {
			if existing.SameRoles(entry) {
				return ErrDuplicateRoleSet
			}
		}
		if len(cfg.VerifyRoles) >= MaxRoleSets {
			return ErrTooManyRoleSets
		}
		cfg.VerifyRoles = append(cfg.VerifyRoles, entry)
		return nil
	})
}

func (s *Store) ClearVerifyRoles(guildID string) GuildConfig {
	cfg, _ := s.Mutate(guildID, func(cfg *GuildConfig) error {
		cfg.VerifyRoles = nil
		return nil
	})
	return cfg
}

// Mutate runs fn against a working copy of the guild's record. When fn
// returns an error nothing changes. Otherwise the copy replaces the record
// and the state file is rewritten; a failed write is logged only.
func (s *Store) Mutate(guildID string, fn func(*GuildConfig) error) (GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var working GuildConfig
	if current, ok := s.guilds[guildID]; ok {
		working = current.clone()
	}
	if err := fn(&working); err != nil {
		return GuildConfig{}, err
	}
	stored := working.clone()
	s.guilds[guildID] = &stored

	if err := s.persistLocked(); err != nil {
		s.logger.Warn("settings persist failed", zap.String("guild_id", guildID), zap.String("path", s.path), zap.Error(err))
	}
	return working, nil
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.guilds, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
