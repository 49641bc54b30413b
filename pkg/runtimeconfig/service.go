// Package runtimeconfig serves admin-mutable settings: a fixed allowlist of
// keys whose effective value is the database override when one exists and
// the static config default otherwise. Every write is audited with actor,
// environment, and reason.
package runtimeconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// ErrUnknownKey is returned for keys outside the allowlist.
var ErrUnknownKey = errors.New("unknown runtime config key")

// cacheTTL bounds how stale a cached read may be. Hot paths (the per-agent
// processor, the guardrail tick) read through the cache; anything needing
// read-your-writes uses EffectiveValue.
const cacheTTL = 3 * time.Second

// Service resolves effective values and applies audited updates.
type Service struct {
	store       *store.Store
	clock       identity.Clock
	log         *slog.Logger
	environment string
	defaults    map[string]string

	mu        sync.RWMutex
	overrides map[string]string
	fetchedAt time.Time

	refreshing atomic.Bool
}

// NewService builds the service; the cache starts cold and fills on first use.
func NewService(st *store.Store, cfg *config.Config, clock identity.Clock) *Service {
	return &Service{
		store:       st,
		clock:       clock,
		log:         slog.With("component", "runtime_config"),
		environment: cfg.Environment,
		defaults:    buildDefaults(cfg),
		overrides:   map[string]string{},
	}
}

// Keys returns the allowlist, sorted.
func (s *Service) Keys() []string {
	keys := make([]string, 0, len(s.defaults))
	for k := range s.defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Default returns the static default for a key.
func (s *Service) Default(key string) (string, error) {
	def, ok := s.defaults[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return def, nil
}

// EffectiveValue returns the database override for key if present, else the
// static default. This is the authoritative, read-your-writes path.
func (s *Service) EffectiveValue(ctx context.Context, key string) (string, error) {
	def, ok := s.defaults[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	value, err := s.store.GetConfigOverride(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return def, nil
		}
		return "", err
	}
	return value, nil
}

// CachedValue returns the effective value from the in-process cache without
// blocking. The result may lag the database by up to cacheTTL; a stale cache
// triggers a background refresh and the stale value is returned meanwhile.
// Unknown keys return the empty string.
func (s *Service) CachedValue(key string) string {
	def, ok := s.defaults[key]
	if !ok {
		return ""
	}

	s.mu.RLock()
	value, overridden := s.overrides[key]
	stale := s.clock.Now().Sub(s.fetchedAt) > cacheTTL
	s.mu.RUnlock()

	if stale {
		s.refreshAsync()
	}
	if overridden {
		return value
	}
	return def
}

// Refresh reloads all overrides from the database synchronously.
func (s *Service) Refresh(ctx context.Context) error {
	overrides, err := s.store.ListConfigOverrides(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh runtime config cache: %w", err)
	}
	s.mu.Lock()
	s.overrides = overrides
	s.fetchedAt = s.clock.Now()
	s.mu.Unlock()
	return nil
}

func (s *Service) refreshAsync() {
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("Background cache refresh failed", "error", err)
		}
	}()
}

// UpdateSettings validates every key against the allowlist, then applies
// all updates and their audit rows in one transaction. The cache is
// refreshed synchronously after commit so subsequent cached reads observe
// the new values.
func (s *Service) UpdateSettings(ctx context.Context, updates map[string]string, changedBy, reason string) error {
	if len(updates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(updates))
	for key := range updates {
		if _, ok := s.defaults[key]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		for _, key := range keys {
			newValue := updates[key]

			oldValue, err := tx.GetConfigOverride(ctx, key)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				oldValue = s.defaults[key]
			}

			if err := tx.UpsertConfigOverride(ctx, key, newValue); err != nil {
				return err
			}

			old := oldValue
			if err := tx.RecordConfigChange(ctx, &models.ConfigChange{
				ConfigKey:   key,
				OldValue:    &old,
				NewValue:    newValue,
				ChangedBy:   changedBy,
				Environment: s.environment,
				Reason:      reason,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}

	for _, key := range keys {
		s.log.Info("Runtime config updated",
			"key", key, "value", updates[key], "changed_by", changedBy)
	}

	if err := s.Refresh(ctx); err != nil {
		// The commit held; a stale cache self-corrects within the TTL.
		s.log.Warn("Cache refresh after update failed", "error", err)
	}
	return nil
}

// Bool reads an effective value and coerces it.
func (s *Service) Bool(ctx context.Context, key string) (bool, error) {
	v, err := s.EffectiveValue(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("key %s is not a bool: %w", key, err)
	}
	return b, nil
}

// Int reads an effective value and coerces it.
func (s *Service) Int(ctx context.Context, key string) (int, error) {
	v, err := s.EffectiveValue(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("key %s is not an int: %w", key, err)
	}
	return n, nil
}

// Float reads an effective value and coerces it.
func (s *Service) Float(ctx context.Context, key string) (float64, error) {
	v, err := s.EffectiveValue(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("key %s is not a float: %w", key, err)
	}
	return f, nil
}

// String reads an effective value.
func (s *Service) String(ctx context.Context, key string) (string, error) {
	return s.EffectiveValue(ctx, key)
}

// CachedBool coerces a cached read, falling back to the key's default on a
// malformed override.
func (s *Service) CachedBool(key string) bool {
	if b, err := strconv.ParseBool(s.CachedValue(key)); err == nil {
		return b
	}
	b, _ := strconv.ParseBool(s.defaults[key])
	return b
}

// CachedInt coerces a cached read, falling back to the key's default on a
// malformed override.
func (s *Service) CachedInt(key string) int {
	if n, err := strconv.Atoi(s.CachedValue(key)); err == nil {
		return n
	}
	n, _ := strconv.Atoi(s.defaults[key])
	return n
}

// CachedFloat coerces a cached read, falling back to the key's default on a
// malformed override.
func (s *Service) CachedFloat(key string) float64 {
	if f, err := strconv.ParseFloat(s.CachedValue(key), 64); err == nil {
		return f
	}
	f, _ := strconv.ParseFloat(s.defaults[key], 64)
	return f
}
