// Package credentials stores provider API keys in the database so deployments
// can rotate them without a restart. Environment variables win when set; the
// store is the fallback.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/duropiri/novai-sub000/internal/infra"
	"github.com/duropiri/novai-sub000/internal/sqlinline"
)

// Known provider slugs.
const (
	ProviderGemini = "gemini"
	ProviderQwen   = "qwen"
	ProviderRunPod = "runpod"
	ProviderFal    = "falai"
)

// KnownProvider reports whether the slug names a configurable provider.
func KnownProvider(provider string) bool {
	switch provider {
	case ProviderGemini, ProviderQwen, ProviderRunPod, ProviderFal:
		return true
	}
	return false
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Key returns the stored API key for a provider, or empty when none is set.
func (s *Store) Key(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectProviderKey, provider)
	var key string
	if err := row.Scan(&key); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// SetKey stores a provider API key, replacing any previous value.
func (s *Store) SetKey(ctx context.Context, provider, key string) error {
	if !KnownProvider(provider) {
		return errors.New("unknown provider " + provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is required")
	}
	props, err := json.Marshal(map[string]any{})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertProviderKey, provider, key, props)
	return err
}
