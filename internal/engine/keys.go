package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"surveyflow/internal/domain"
	"surveyflow/internal/events"
	"surveyflow/internal/fault"
	"surveyflow/internal/repo"
)

type APIKeyCreateOptions struct {
	ActorID   string
	Name      string
	Roles     []string
	CreatedBy string
}

// CreateAPIKey stores a new key for an actor. The plaintext key is returned once
// and only its hash is kept.
func (e Engine) CreateAPIKey(ctx context.Context, opts APIKeyCreateOptions) (domain.APIKey, string, error) {
	actor := strings.TrimSpace(opts.ActorID)
	if actor == "" {
		return domain.APIKey{}, "", invalidInput("actor_id is required")
	}
	if len(opts.Roles) == 0 {
		return domain.APIKey{}, "", invalidInput("at least one role is required")
	}
	for _, role := range opts.Roles {
		if !e.Auth.KnownRole(role) {
			return domain.APIKey{}, "", fault.Clientf(CodeUnknownRole, "unknown role %q", role)
		}
	}
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return domain.APIKey{}, "", fault.NewInternalError("generate api key", err)
	}
	plaintext := "sf_" + hex.EncodeToString(secret)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actor,
		Name:      strings.TrimSpace(opts.Name),
		Roles:     opts.Roles,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, 0, "api_key", key.ID, opts.CreatedBy, events.EventPayload{
		"actor_id": actor,
		"roles":    opts.Roles,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

func (e Engine) ListEvents(ctx context.Context, limit int, surveyID int64) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, limit, surveyID)
}
