package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gap-advisor/internal/common/database"
	apperrors "gap-advisor/internal/common/errors"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"
)

// SQLStore implements Store on PostgreSQL (lib/pq) or SQLite (modernc).
// Queries are written with $n placeholders and rebound for SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
	opts   Options
	logger logger.Logger
}

func NewSQLStore(db *sql.DB, driver string, opts Options, log logger.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		opts:   opts.withDefaults(),
		logger: log.WithFields(map[string]interface{}{"component": "conversation-store", "driver": driver}),
	}
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStoreFailedError("migrate", err)
		}
	}
	s.logger.Info("conversation schema ready", nil)
	return nil
}

// q rewrites $n placeholders as ?n for SQLite, which binds numbered
// parameters the same way.
func (s *SQLStore) q(query string) string {
	if s.driver == database.DriverSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

func (s *SQLStore) GetOrCreate(ctx context.Context, analysisID, userID string) (*models.Conversation, error) {
	if err := validateIDs(analysisID, userID); err != nil {
		return nil, err
	}

	now := s.opts.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO conversations (id, analysis_id, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (analysis_id, user_id) DO NOTHING`),
		s.opts.NewID(), analysisID, userID, now,
	)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("get-or-create", err)
	}

	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, s.q(
		`SELECT id, analysis_id, user_id, created_at, updated_at
		 FROM conversations WHERE analysis_id = $1 AND user_id = $2`),
		analysisID, userID,
	))
	if err != nil {
		return nil, apperrors.NewStoreFailedError("get-or-create", err)
	}

	if conv.VariantIDs, err = s.variantIDs(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, s.q(
		`SELECT id, analysis_id, user_id, created_at, updated_at
		 FROM conversations WHERE id = $1`),
		conversationID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversationNotFound(conversationID)
	}
	if err != nil {
		return nil, apperrors.NewStoreFailedError("get", err)
	}

	if conv.VariantIDs, err = s.variantIDs(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, analysis_id, user_id, created_at, updated_at
		 FROM conversations WHERE user_id = $1 ORDER BY created_at, id`),
		userID,
	)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("list", err)
	}
	defer rows.Close()

	var out []models.Conversation
	index := make(map[string]int)
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, apperrors.NewStoreFailedError("list", err)
		}
		conv.VariantIDs = []string{}
		index[conv.ID] = len(out)
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreFailedError("list", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	links, err := s.db.QueryContext(ctx, s.q(
		`SELECT l.original_id, l.variant_id
		 FROM variant_links l JOIN conversations c ON c.id = l.original_id
		 WHERE c.user_id = $1 ORDER BY l.created_at, l.variant_id`),
		userID,
	)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("list", err)
	}
	defer links.Close()

	for links.Next() {
		var originalID, variantID string
		if err := links.Scan(&originalID, &variantID); err != nil {
			return nil, apperrors.NewStoreFailedError("list", err)
		}
		if i, ok := index[originalID]; ok {
			out[i].VariantIDs = append(out[i].VariantIDs, variantID)
		}
	}
	if err := links.Err(); err != nil {
		return nil, apperrors.NewStoreFailedError("list", err)
	}
	return out, nil
}

func (s *SQLStore) AddUserMessage(ctx context.Context, conversationID, text string, meta models.UserMetadata) (*models.Message, error) {
	if err := ValidateText(text, s.opts.MaxMessageLength); err != nil {
		return nil, err
	}
	return s.appendMessage(ctx, conversationID, models.RoleUser, text, meta)
}

func (s *SQLStore) AddAssistantMessage(ctx context.Context, conversationID, text string, meta models.AssistantMetadata) (*models.Message, error) {
	return s.appendMessage(ctx, conversationID, models.RoleAssistant, text, meta)
}

// appendMessage bumps the conversation's updated_at first: the row lock it
// takes serializes concurrent appends so MAX(seq)+1 cannot collide.
func (s *SQLStore) appendMessage(ctx context.Context, conversationID string, role models.Role, text string, meta models.Metadata) (*models.Message, error) {
	metaJSON, err := models.EncodeMetadata(meta)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	now := s.opts.Now()
	msg := &models.Message{
		ID:             s.opts.NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        text,
		Metadata:       meta,
		CreatedAt:      time.UnixMilli(now.UnixMilli()).UTC(),
	}

	err = s.inTx(ctx, "append", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET updated_at = $1 WHERE id = $2`),
			now.UnixMilli(), conversationID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return conversationNotFound(conversationID)
		}

		return tx.QueryRowContext(ctx, s.q(
			`INSERT INTO messages (id, conversation_id, seq, role, content, metadata, created_at)
			 SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, CAST($6 AS BIGINT)
			 FROM messages WHERE conversation_id = $2
			 RETURNING seq`),
			msg.ID, conversationID, string(role), text, string(metaJSON), now.UnixMilli(),
		).Scan(&msg.Seq)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, seq, role, content, metadata, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY seq`
	args := []interface{}{conversationID}
	if limit > 0 {
		query = `SELECT id, conversation_id, seq, role, content, metadata, created_at FROM (
			SELECT id, conversation_id, seq, role, content, metadata, created_at
			FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2
		) tail ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("get-messages", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			m         models.Message
			role      string
			metaJSON  string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &metaJSON, &createdAt); err != nil {
			return nil, apperrors.NewStoreFailedError("get-messages", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		if m.Metadata, err = models.DecodeMetadata([]byte(metaJSON)); err != nil {
			s.logger.Warn("undecodable message metadata", map[string]interface{}{
				"messageId": m.ID,
				"error":     err.Error(),
			})
			m.Metadata = models.MetadataFor(m.Role)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreFailedError("get-messages", err)
	}

	if len(out) == 0 {
		if _, err := s.exists(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) LinkVariant(ctx context.Context, originalID, variantID string, params map[string]string) error {
	if err := validateIDs(originalID, variantID); err != nil {
		return err
	}
	if originalID == variantID {
		return invalidSelfLink()
	}
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	now := s.opts.Now().UnixMilli()
	return s.inTx(ctx, "link-variant", func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM conversations WHERE id IN ($1, $2)`),
			originalID, variantID).Scan(&count); err != nil {
			return err
		}
		if count != 2 {
			return apperrors.NewNotFoundError("conversation", originalID+","+variantID)
		}

		res, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO variant_links (original_id, variant_id, modified_parameters, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (original_id, variant_id) DO NOTHING`),
			originalID, variantID, string(paramsJSON), now,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		_, err = tx.ExecContext(ctx, s.q(`UPDATE conversations SET updated_at = $1 WHERE id = $2`), now, originalID)
		return err
	})
}

func (s *SQLStore) Delete(ctx context.Context, conversationID string) error {
	return s.inTx(ctx, "delete", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM variant_links WHERE original_id = $1 OR variant_id = $1`), conversationID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE conversation_id = $1`), conversationID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE id = $1`), conversationID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return conversationNotFound(conversationID)
		}
		return nil
	})
}

// inTx runs fn in a transaction. StandardErrors from fn pass through, anything
// else becomes STORE_FAILED.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreFailedError(op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			return err
		}
		return apperrors.NewStoreFailedError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreFailedError(op, err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, conversationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM conversations WHERE id = $1`), conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, conversationNotFound(conversationID)
	}
	if err != nil {
		return false, apperrors.NewStoreFailedError("exists", err)
	}
	return true, nil
}

func (s *SQLStore) variantIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT variant_id FROM variant_links WHERE original_id = $1 ORDER BY created_at, variant_id`),
		conversationID,
	)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("variant-ids", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewStoreFailedError("variant-ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreFailedError("variant-ids", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLStore) scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv                 models.Conversation
		createdAt, updatedAt int64
	)
	if err := row.Scan(&conv.ID, &conv.AnalysisID, &conv.UserID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &conv, nil
}
