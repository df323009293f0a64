package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlinehq/chatline/internal/db"
)

// PGStore is the Postgres-backed message store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a message store on the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const messageColumns = `id, conversation_id, tenant_id, sender_type, sender_id, content, content_type, status, delivered_at, read_at, created_at`

// Insert writes the message and the parent conversation's denormalized
// fields in one transaction.
func (s *PGStore) Insert(ctx context.Context, m Message, preview string, bumpUnread bool) (Message, error) {
	tid, err := db.ParseUUID(m.TenantID)
	if err != nil {
		return Message{}, err
	}
	cid, err := db.ParseUUID(m.ConversationID)
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	saved, err := scanMessage(tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, tenant_id, sender_type, sender_id, content, content_type, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+messageColumns,
		cid, tid, m.SenderType, m.SenderID, m.Content, m.ContentType, m.Status))
	if err != nil {
		return Message{}, err
	}

	if bumpUnread {
		_, err = tx.Exec(ctx,
			`UPDATE conversations
			 SET last_message_at = $3, last_message_preview = $4,
			     unread_count = unread_count + 1, is_read = FALSE, updated_at = now()
			 WHERE id = $1 AND tenant_id = $2`,
			cid, tid, saved.CreatedAt, preview)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE conversations
			 SET last_message_at = $3, last_message_preview = $4, updated_at = now()
			 WHERE id = $1 AND tenant_id = $2`,
			cid, tid, saved.CreatedAt, preview)
	}
	if err != nil {
		return Message{}, fmt.Errorf("update conversation denorm: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

// AdvanceRead marks contact-authored messages up to and including the given
// message as read and resets the conversation's unread state.
func (s *PGStore) AdvanceRead(ctx context.Context, tenantID, conversationID, throughMessageID string) error {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return err
	}
	mid, err := db.ParseUUID(throughMessageID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var through pgtype.Timestamptz
	err = tx.QueryRow(ctx,
		`SELECT created_at FROM messages WHERE id = $1 AND conversation_id = $2 AND tenant_id = $3`,
		mid, cid, tid).Scan(&through)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("lookup through message: %w", err)
	}

	// Only contact-authored, not-yet-read messages move; the status check
	// keeps the operation idempotent and the timestamps stable.
	if _, err := tx.Exec(ctx,
		`UPDATE messages SET status = 'read', read_at = now()
		 WHERE conversation_id = $1 AND tenant_id = $2
		   AND sender_type = 'contact' AND status <> 'read' AND created_at <= $3`,
		cid, tid, through.Time); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations
		 SET unread_count = (
			SELECT count(*) FROM messages
			WHERE conversation_id = $1 AND tenant_id = $2
			  AND sender_type = 'contact' AND status <> 'read'
		 ),
		 is_read = NOT EXISTS (
			SELECT 1 FROM messages
			WHERE conversation_id = $1 AND tenant_id = $2
			  AND sender_type = 'contact' AND status <> 'read'
		 ),
		 updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`,
		cid, tid); err != nil {
		return fmt.Errorf("reset unread state: %w", err)
	}

	return tx.Commit(ctx)
}

// ListBefore fetches up to limit messages newest-first, optionally before a
// creation-time cursor.
func (s *PGStore) ListBefore(ctx context.Context, tenantID, conversationID string, before *time.Time, limit int) ([]Message, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND tenant_id = $2`
	args := []any{cid, tid}
	if before != nil {
		args = append(args, *before)
		query += ` AND created_at < $3`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m                   Message
		pgID, pgConv, pgTen pgtype.UUID
		deliveredAt, readAt pgtype.Timestamptz
		createdAt           pgtype.Timestamptz
	)
	err := row.Scan(&pgID, &pgConv, &pgTen, &m.SenderType, &m.SenderID, &m.Content,
		&m.ContentType, &m.Status, &deliveredAt, &readAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ID = db.UUIDString(pgID)
	m.ConversationID = db.UUIDString(pgConv)
	m.TenantID = db.UUIDString(pgTen)
	m.DeliveredAt = db.TimePtr(deliveredAt)
	m.ReadAt = db.TimePtr(readAt)
	m.CreatedAt = db.TimeValue(createdAt)
	return m, nil
}
