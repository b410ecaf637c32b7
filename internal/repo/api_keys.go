package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"surveyflow/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

type apiKeyRow struct {
	ID        string `db:"id"`
	ActorID   string `db:"actor_id"`
	Name      string `db:"name"`
	Roles     string `db:"roles_json"`
	KeyHash   string `db:"key_hash"`
	CreatedAt string `db:"created_at"`
}

func (r apiKeyRow) toDomain() (domain.APIKey, error) {
	key := domain.APIKey{
		ID:        r.ID,
		ActorID:   r.ActorID,
		Name:      r.Name,
		KeyHash:   r.KeyHash,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Roles), &key.Roles); err != nil {
		return domain.APIKey{}, fmt.Errorf("decode roles of api key %s: %w", r.ID, err)
	}
	return key, nil
}

const apiKeyColumns = `id, actor_id, COALESCE(name,'') AS name, roles_json, key_hash, created_at`

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, q Queryer, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.ActorID == "" {
		return errors.New("actor_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	roles := key.Roles
	if roles == nil {
		roles = []string{}
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return err
	}
	_, err = exec(ctx, r.q(q), `INSERT INTO api_keys(id, actor_id, name, roles_json, key_hash, created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), string(data), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var row apiKeyRow
	if err := get(ctx, r.DB, &row, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=? LIMIT 1`, hash); err != nil {
		return domain.APIKey{}, err
	}
	return row.toDomain()
}

// ListAPIKeys returns API keys, optionally filtered by actor ID.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC, id`
	var rows []apiKeyRow
	if err := selectAll(ctx, r.DB, &rows, query, args...); err != nil {
		return nil, err
	}
	keys := make([]domain.APIKey, 0, len(rows))
	for _, row := range rows {
		key, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	return execOne(ctx, r.DB, `DELETE FROM api_keys WHERE id=?`, id)
}
