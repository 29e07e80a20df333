package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/store/migrations"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

// Postgres bundles the three store implementations over one connection pool.
type Postgres struct {
	db            *sql.DB
	Conversations *PostgresConversationStore
	Requests      *PostgresRequestStore
	Messages      *PostgresMessageStore
}

// OpenPostgres connects, runs migrations and returns the store bundle.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose dialect error: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Postgres{
		db:            db,
		Conversations: &PostgresConversationStore{db: db},
		Requests:      &PostgresRequestStore{db: db},
		Messages:      &PostgresMessageStore{db: db},
	}, nil
}

// Ping reports connection health, used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// isUniqueViolation reports whether the error is a Postgres unique index
// violation (SQLSTATE 23505). The partial unique indexes turn lost races on
// the single-active and single-pending invariants into this error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresConversationStore implements ConversationStore.
type PostgresConversationStore struct {
	db *sql.DB
}

const conversationColumns = `id, user_id, counsellor_id, key_nonce, key_tag, key_ciphertext,
	is_active, is_anonymous, last_activated_at, active_until, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*model.Conversation, error) {
	conv := &model.Conversation{}
	var lastActivated, activeUntil sql.NullTime
	err := row.Scan(
		&conv.ID, &conv.UserID, &conv.CounsellorID,
		&conv.WrappedKey.Nonce, &conv.WrappedKey.Tag, &conv.WrappedKey.Ciphertext,
		&conv.IsActive, &conv.IsAnonymous, &lastActivated, &activeUntil, &conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastActivated.Valid {
		conv.LastActivatedAt = &lastActivated.Time
	}
	if activeUntil.Valid {
		conv.ActiveUntil = &activeUntil.Time
	}
	return conv, nil
}

func (s *PostgresConversationStore) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresConversationStore) FindByPair(ctx context.Context, userID, counsellorID string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = $1 AND counsellor_id = $2
		ORDER BY created_at ASC LIMIT 1`
	return scanConversation(s.db.QueryRowContext(ctx, query, userID, counsellorID))
}

func (s *PostgresConversationStore) FindActiveForUser(ctx context.Context, userID string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = $1 AND is_active`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, userID))
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, apperr.NotFound("no active conversation")
	}
	return conv, err
}

func (s *PostgresConversationStore) FindActiveForCounsellor(ctx context.Context, counsellorID string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE counsellor_id = $1 AND is_active`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, counsellorID))
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, apperr.NotFound("no active conversation")
	}
	return conv, err
}

func (s *PostgresConversationStore) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = $1 ORDER BY created_at ASC`
	return s.list(ctx, query, userID)
}

func (s *PostgresConversationStore) ListForCounsellor(ctx context.Context, counsellorID string) ([]*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE counsellor_id = $1 ORDER BY created_at ASC`
	return s.list(ctx, query, counsellorID)
}

func (s *PostgresConversationStore) list(ctx context.Context, query string, args ...any) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *PostgresConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	query := `INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			last_activated_at = EXCLUDED.last_activated_at,
			active_until = EXCLUDED.active_until`

	var lastActivated, activeUntil sql.NullTime
	if conv.LastActivatedAt != nil {
		lastActivated = sql.NullTime{Time: *conv.LastActivatedAt, Valid: true}
	}
	if conv.ActiveUntil != nil {
		activeUntil = sql.NullTime{Time: *conv.ActiveUntil, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.CounsellorID,
		conv.WrappedKey.Nonce, conv.WrappedKey.Tag, conv.WrappedKey.Ciphertext,
		conv.IsActive, conv.IsAnonymous, lastActivated, activeUntil, conv.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.InvalidState("participant already has an active conversation")
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// PostgresRequestStore implements RequestStore.
type PostgresRequestStore struct {
	db *sql.DB
}

const requestColumns = `id, user_id, counsellor_id, anonymous, status, created_at, expires_at`

func scanRequest(row interface{ Scan(...any) error }) (*model.ConversationRequest, error) {
	req := &model.ConversationRequest{}
	err := row.Scan(&req.ID, &req.UserID, &req.CounsellorID, &req.Anonymous,
		&req.Status, &req.CreatedAt, &req.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("request not found")
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

func (s *PostgresRequestStore) FindByID(ctx context.Context, id string) (*model.ConversationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	return scanRequest(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresRequestStore) FindPendingForUser(ctx context.Context, userID string) (*model.ConversationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE user_id = $1 AND status = 'pending'`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, userID))
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, apperr.NotFound("no pending request")
	}
	return req, err
}

func (s *PostgresRequestStore) ListPendingForCounsellor(ctx context.Context, counsellorID string, now time.Time) ([]*model.ConversationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE counsellor_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at ASC`
	return s.list(ctx, query, counsellorID, now)
}

func (s *PostgresRequestStore) ListForUser(ctx context.Context, userID string) ([]*model.ConversationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE user_id = $1 ORDER BY created_at ASC`
	return s.list(ctx, query, userID)
}

func (s *PostgresRequestStore) list(ctx context.Context, query string, args ...any) ([]*model.ConversationRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*model.ConversationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresRequestStore) Save(ctx context.Context, req *model.ConversationRequest) error {
	query := `INSERT INTO requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`

	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.UserID, req.CounsellorID, req.Anonymous,
		req.Status, req.CreatedAt, req.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.InvalidState("user already has a pending request")
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// PostgresMessageStore implements MessageStore.
type PostgresMessageStore struct {
	db *sql.DB
}

func (s *PostgresMessageStore) Append(ctx context.Context, msg *model.Message) error {
	query := `INSERT INTO messages (id, conversation_id, sender_role, sender_id, nonce, tag, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`

	err := s.db.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderRole, msg.SenderID,
		msg.Body.Nonce, msg.Body.Tag, msg.Body.Ciphertext, msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	query := `SELECT id, conversation_id, sender_role, sender_id, nonce, tag, ciphertext, created_at, seq
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg := &model.Message{}
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderRole, &msg.SenderID,
			&msg.Body.Nonce, &msg.Body.Tag, &msg.Body.Ciphertext, &msg.CreatedAt, &msg.Seq)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
