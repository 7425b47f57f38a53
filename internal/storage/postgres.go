package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema creates the tables on first start. embeddingDim must match the
// encoder's output dimension; existing tables are left untouched.
func (s *PostgresStore) InitSchema(ctx context.Context, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS identities (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			contact    TEXT NOT NULL DEFAULT '',
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS signatures (
			id          UUID PRIMARY KEY,
			identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			embedding   vector(%d) NOT NULL,
			quality     REAL NOT NULL DEFAULT 0,
			source_key  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_signatures_identity ON signatures (identity_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS attempts (
			id           UUID PRIMARY KEY,
			decision     TEXT NOT NULL,
			identity_id  TEXT,
			matched_id   TEXT,
			nearest_id   TEXT,
			distance     DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
			threshold    DOUBLE PRECISION NOT NULL DEFAULT 0,
			source       TEXT NOT NULL DEFAULT '',
			method       TEXT NOT NULL DEFAULT '',
			ip           TEXT NOT NULL DEFAULT '',
			user_agent   TEXT NOT NULL DEFAULT '',
			snapshot_key TEXT NOT NULL DEFAULT '',
			embedding    vector(%d),
			notes        TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_attempts_created ON attempts (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_matched ON attempts (matched_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// --- Identities ---

func (s *PostgresStore) CreateIdentity(ctx context.Context, id, name, contact string, metadata json.RawMessage) (*models.Identity, error) {
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	ident := &models.Identity{
		ID:       id,
		Name:     name,
		Contact:  contact,
		Active:   true,
		Metadata: metadata,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, name, contact, active, metadata) VALUES ($1, $2, $3, TRUE, $4) RETURNING created_at, updated_at`,
		ident.ID, ident.Name, ident.Contact, ident.Metadata,
	).Scan(&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, contact, active, metadata, created_at, updated_at FROM identities WHERE id = $1`, id,
	).Scan(&ident.ID, &ident.Name, &ident.Contact, &ident.Active, &ident.Metadata, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, contact, active, metadata, created_at, updated_at FROM identities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		var ident models.Identity
		if err := rows.Scan(&ident.ID, &ident.Name, &ident.Contact, &ident.Active,
			&ident.Metadata, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, ident)
	}
	return identities, nil
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, ident *models.Identity) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE identities SET name = $1, contact = $2, active = $3, metadata = $4, updated_at = now()
		 WHERE id = $5 RETURNING updated_at`,
		ident.Name, ident.Contact, ident.Active, ident.Metadata, ident.ID,
	).Scan(&ident.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("identity not found")
		}
		return fmt.Errorf("update identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity not found")
	}
	return nil
}

// --- Signatures ---

func (s *PostgresStore) AddSignature(ctx context.Context, identityID string, embedding []float32, quality float32, sourceKey string) (*models.Signature, error) {
	sig := &models.Signature{
		ID:         uuid.New(),
		IdentityID: identityID,
		Embedding:  embedding,
		Quality:    quality,
		SourceKey:  sourceKey,
	}
	vec := pgvector.NewVector(embedding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO signatures (id, identity_id, embedding, quality, source_key) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		sig.ID, sig.IdentityID, vec, sig.Quality, sig.SourceKey,
	).Scan(&sig.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add signature: %w", err)
	}
	return sig, nil
}

// DeleteSignature removes a signature and returns the object key of its
// enrollment photo so the caller can sweep it.
func (s *PostgresStore) DeleteSignature(ctx context.Context, identityID string, sigID uuid.UUID) (string, error) {
	var sourceKey string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM signatures WHERE id = $1 AND identity_id = $2 RETURNING source_key`, sigID, identityID,
	).Scan(&sourceKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("signature not found")
		}
		return "", fmt.Errorf("delete signature: %w", err)
	}
	return sourceKey, nil
}

// IdentityEmbeddings returns just the embedding vectors of one identity,
// used to rebuild its gallery entry after a change.
func (s *PostgresStore) IdentityEmbeddings(ctx context.Context, identityID string) ([][]float32, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT embedding FROM signatures WHERE identity_id = $1`, identityID)
	if err != nil {
		return nil, fmt.Errorf("load identity embeddings: %w", err)
	}
	defer rows.Close()

	var vecs [][]float32
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vecs = append(vecs, vec.Slice())
	}
	return vecs, nil
}

func (s *PostgresStore) ListSignatures(ctx context.Context, identityID string) ([]models.Signature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity_id, quality, source_key, created_at FROM signatures WHERE identity_id = $1 ORDER BY created_at DESC`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var sigs []models.Signature
	for rows.Next() {
		var sig models.Signature
		if err := rows.Scan(&sig.ID, &sig.IdentityID, &sig.Quality, &sig.SourceKey, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func (s *PostgresStore) CountSignatures(ctx context.Context, identityID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signatures WHERE identity_id = $1`, identityID,
	).Scan(&count)
	return count, err
}

// LoadGallery returns every signature of every active identity, keyed by
// identity. Used to hydrate the in-memory gallery on startup.
func (s *PostgresStore) LoadGallery(ctx context.Context) (map[string][][]float32, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sg.identity_id, sg.embedding
		 FROM signatures sg JOIN identities i ON i.id = sg.identity_id
		 WHERE i.active`)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	defer rows.Close()

	gallery := make(map[string][][]float32)
	for rows.Next() {
		var identityID string
		var vec pgvector.Vector
		if err := rows.Scan(&identityID, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery row: %w", err)
		}
		gallery[identityID] = append(gallery[identityID], vec.Slice())
	}
	return gallery, nil
}

// --- Attempts ---

func (s *PostgresStore) InsertAttempt(ctx context.Context, a *models.Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	var vec *pgvector.Vector
	if len(a.Embedding) > 0 {
		v := pgvector.NewVector(a.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attempts (id, decision, identity_id, matched_id, nearest_id, distance, confidence, threshold, source, method, ip, user_agent, snapshot_key, embedding, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Decision, a.IdentityID, a.MatchedID, a.NearestID, a.Distance, a.Confidence, a.Threshold,
		a.Source, a.Method, a.IP, a.UserAgent, a.SnapshotKey, vec, a.Notes, a.CreatedAt)
	return err
}

// AttemptFilter narrows QueryAttempts. Nil fields are ignored.
type AttemptFilter struct {
	Identity *string
	Decision *models.Decision
	Source   *string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func (s *PostgresStore) QueryAttempts(ctx context.Context, f AttemptFilter) ([]models.Attempt, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var conds []string
	var args []interface{}
	argIdx := 1

	if f.Identity != nil {
		conds = append(conds, fmt.Sprintf("matched_id = $%d", argIdx))
		args = append(args, *f.Identity)
		argIdx++
	}
	if f.Decision != nil {
		conds = append(conds, fmt.Sprintf("decision = $%d", argIdx))
		args = append(args, *f.Decision)
		argIdx++
	}
	if f.Source != nil {
		conds = append(conds, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, *f.Source)
		argIdx++
	}
	if f.From != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *f.To)
		argIdx++
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM attempts " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, decision, identity_id, matched_id, nearest_id, distance, confidence, threshold, source, method, ip, user_agent, snapshot_key, notes, created_at
		 FROM attempts %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.Decision, &a.IdentityID, &a.MatchedID, &a.NearestID,
			&a.Distance, &a.Confidence, &a.Threshold,
			&a.Source, &a.Method, &a.IP, &a.UserAgent, &a.SnapshotKey, &a.Notes, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, total, nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id uuid.UUID) (*models.Attempt, error) {
	a := &models.Attempt{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, decision, identity_id, matched_id, nearest_id, distance, confidence, threshold, source, method, ip, user_agent, snapshot_key, notes, created_at
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Decision, &a.IdentityID, &a.MatchedID, &a.NearestID,
		&a.Distance, &a.Confidence, &a.Threshold,
		&a.Source, &a.Method, &a.IP, &a.UserAgent, &a.SnapshotKey, &a.Notes, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// AttemptNeighbor is one row of a similarity search over logged attempts.
type AttemptNeighbor struct {
	ID        uuid.UUID       `json:"id"`
	Decision  models.Decision `json:"decision"`
	MatchedID *string         `json:"matched_id,omitempty"`
	Distance  float64         `json:"distance"`
	CreatedAt time.Time       `json:"created_at"`
}

// SimilarAttempts returns the logged attempts whose probe signature is
// closest to the given one. metric selects the pgvector operator and must
// match the metric the signatures were compared with.
func (s *PostgresStore) SimilarAttempts(ctx context.Context, embedding []float32, metric string, limit int) ([]AttemptNeighbor, error) {
	if limit <= 0 {
		limit = 10
	}
	op := "<->"
	if metric == "cosine" {
		op = "<=>"
	}
	vec := pgvector.NewVector(embedding)

	query := fmt.Sprintf(
		`SELECT id, decision, matched_id, embedding %s $1 AS distance, created_at
		 FROM attempts WHERE embedding IS NOT NULL
		 ORDER BY embedding %s $1 LIMIT $2`, op, op)

	rows, err := s.pool.Query(ctx, query, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("similar attempts: %w", err)
	}
	defer rows.Close()

	var neighbors []AttemptNeighbor
	for rows.Next() {
		var n AttemptNeighbor
		if err := rows.Scan(&n.ID, &n.Decision, &n.MatchedID, &n.Distance, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}
