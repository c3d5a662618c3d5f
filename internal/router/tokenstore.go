package router

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentloom/agentloom/internal/audit"
)

const (
	tokenPrefix    = "agl_"
	tokenPrefixLen = len(tokenPrefix) + 8 // "agl_" + 8 hex chars, enough to identify without exposing the secret
)

var ErrTokenNotFound = errors.New("token not found")

// Token is one minted bearer token, scoped to a routes.json prefix.
// ID is the token's display prefix, not the secret itself: the full
// value is only ever returned once, at Mint time.
type Token struct {
	ID         string
	Route      string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

func hashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// TokenStore persists tokens minted by the `token` CLI subcommand for
// use in a routes.json entry's "token" field. It is entirely separate
// from routes.json itself: routes.json names the token value, this
// store lets an operator mint and revoke values without hand-editing
// hex strings.
type TokenStore struct {
	db *sql.DB
}

// OpenTokenStore opens (creating if absent) <workspaceDir>/data/tokens.db.
func OpenTokenStore(workspaceDir string) (*TokenStore, error) {
	dataDir := filepath.Join(workspaceDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "tokens.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tokens.db: %w", err)
	}

	s := &TokenStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tokens.db: %w", err)
	}
	return s, nil
}

func (s *TokenStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		hash TEXT PRIMARY KEY,
		prefix TEXT NOT NULL UNIQUE,
		route TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_route ON tokens(route);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *TokenStore) Close() error {
	return s.db.Close()
}

// Mint generates a fresh token scoped to route, persists its hash, and
// returns the token along with the one-time secret to paste into
// routes.json. The secret itself is never stored or retrievable again;
// only its sha256 hash and a display prefix are.
func (s *TokenStore) Mint(route string) (*Token, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	secret := tokenPrefix + hex.EncodeToString(buf)
	prefix := secret[:tokenPrefixLen]

	token := &Token{ID: prefix, Route: route, CreatedAt: time.Now()}
	_, err := s.db.Exec(
		`INSERT INTO tokens (hash, prefix, route, created_at) VALUES (?, ?, ?, ?)`,
		hashToken(secret), prefix, token.Route, token.CreatedAt,
	)
	if err != nil {
		audit.Log(audit.Event{Operation: audit.OpTokenMint, Route: route, Success: false, Error: err.Error()})
		return nil, "", fmt.Errorf("insert token: %w", err)
	}
	audit.Log(audit.Event{Operation: audit.OpTokenMint, TokenID: token.ID, Route: route, Success: true})
	return token, secret, nil
}

// Revoke deletes a token by its display prefix.
func (s *TokenStore) Revoke(prefix string) error {
	result, err := s.db.Exec(`DELETE FROM tokens WHERE prefix = ?`, prefix)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		audit.Log(audit.Event{Operation: audit.OpTokenRevoke, TokenID: prefix, Success: false, Error: ErrTokenNotFound.Error()})
		return ErrTokenNotFound
	}
	audit.Log(audit.Event{Operation: audit.OpTokenRevoke, TokenID: prefix, Success: true})
	return nil
}

// List returns every minted token, newest first, identified by prefix
// only since the full secret is never stored.
func (s *TokenStore) List() ([]*Token, error) {
	rows, err := s.db.Query(`SELECT prefix, route, created_at, last_used_at FROM tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*Token
	for rows.Next() {
		var t Token
		var lastUsedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Route, &t.CreatedAt, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if lastUsedAt.Valid {
			t.LastUsedAt = &lastUsedAt.Time
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
