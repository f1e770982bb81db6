package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort" // To ensure consistent participant order for unique constraint
	"time"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/Vasu1712/scenyx-realtime/internal/storage"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
)

// PostgresDMStore implements storage.Store using PostgreSQL.
type PostgresDMStore struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ storage.Store = (*PostgresDMStore)(nil)

// NewPostgresDMStore opens the database, verifies the connection and applies the schema.
func NewPostgresDMStore(ctx context.Context, dataSourceName string, log zerolog.Logger) (*PostgresDMStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection for DMs: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database for DMs: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	log = log.With().Str("component", "postgres-store").Logger()
	log.Info().Msg("connected to PostgreSQL database for DMs")

	return &PostgresDMStore{db: db, log: log}, nil
}

const conversationColumns = `id, participant1_id, participant2_id, last_seq, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.DMConversation, error) {
	conv := &models.DMConversation{}
	err := row.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.LastSeq, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

// StartOrGetConversation finds an existing conversation between two users or creates a new one.
func (s *PostgresDMStore) StartOrGetConversation(ctx context.Context, user1, user2 string) (*models.DMConversation, bool, error) {
	// Ensure consistent order of participants to handle the UNIQUE constraint
	participants := []string{user1, user2}
	sort.Strings(participants)
	p1, p2 := participants[0], participants[1]

	insertQuery := `
		INSERT INTO dm_conversations (id, participant1_id, participant2_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant1_id, participant2_id) DO NOTHING
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.db.QueryRowContext(ctx, insertQuery, uuid.NewString(), p1, p2))
	if err == nil {
		s.log.Info().Str("dm_id", conv.ID).Str("user1", p1).Str("user2", p2).Msg("created DM conversation")
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create DM conversation: %w", err)
	}

	query := `SELECT ` + conversationColumns + ` FROM dm_conversations
		WHERE participant1_id = $1 AND participant2_id = $2`
	conv, err = scanConversation(s.db.QueryRowContext(ctx, query, p1, p2))
	if err != nil {
		return nil, false, fmt.Errorf("get DM conversation: %w", err)
	}
	return conv, false, nil
}

func (s *PostgresDMStore) GetConversation(ctx context.Context, dmID string) (*models.DMConversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM dm_conversations WHERE id = $1`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, dmID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.ErrConversationNotFound, dmID)
	}
	if err != nil {
		return nil, fmt.Errorf("get DM conversation %s: %w", dmID, err)
	}
	return conv, nil
}

// GetConversations lists all conversations a user is a part of.
func (s *PostgresDMStore) GetConversations(ctx context.Context, userID string) ([]*models.DMConversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM dm_conversations
		WHERE participant1_id = $1 OR participant2_id = $1
		ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user %s: %w", userID, err)
	}
	defer rows.Close()

	var convs []*models.DMConversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("skipping unreadable DM conversation row")
			continue
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *PostgresDMStore) Participants(ctx context.Context, dmID string) ([2]string, error) {
	conv, err := s.GetConversation(ctx, dmID)
	if err != nil {
		return [2]string{}, err
	}
	return conv.Participants, nil
}

func (s *PostgresDMStore) MaxSequence(ctx context.Context, dmID string) (int64, error) {
	conv, err := s.GetConversation(ctx, dmID)
	if err != nil {
		return 0, err
	}
	return conv.LastSeq, nil
}

// SaveMessage inserts the message and advances the conversation's last_seq in one transaction.
func (s *PostgresDMStore) SaveMessage(ctx context.Context, msg *models.DMMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save message: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int64
	err = tx.QueryRowContext(ctx, `SELECT last_seq FROM dm_conversations WHERE id = $1 FOR UPDATE`, msg.ConversationID).Scan(&lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewError(models.ErrConversationNotFound, msg.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("lock conversation %s: %w", msg.ConversationID, err)
	}

	if msg.Seq <= lastSeq {
		var existingID string
		err = tx.QueryRowContext(ctx, `SELECT id FROM dm_messages WHERE dm_conversation_id = $1 AND seq = $2`,
			msg.ConversationID, msg.Seq).Scan(&existingID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check message slot: %w", err)
		}
		if existingID == msg.ID {
			return nil
		}
		return models.ErrSequenceConflict
	}
	if msg.Seq != lastSeq+1 {
		return models.ErrSequenceConflict
	}

	insert := `
		INSERT INTO dm_messages (id, dm_conversation_id, seq, sender_id, recipient_id, type, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err = tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.Seq, msg.SenderID, msg.RecipientID,
		string(msg.Type), msg.Content, string(msg.Status), msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message into DM %s: %w", msg.ConversationID, err)
	}

	// Update the last_seq and updated_at of the conversation
	if _, err = tx.ExecContext(ctx, `UPDATE dm_conversations SET last_seq = $2, updated_at = $3 WHERE id = $1`,
		msg.ConversationID, msg.Seq, msg.CreatedAt); err != nil {
		return fmt.Errorf("advance conversation %s: %w", msg.ConversationID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	s.log.Debug().Str("dm_id", msg.ConversationID).Int64("seq", msg.Seq).Str("sender_id", msg.SenderID).Msg("added message")
	return nil
}

const messageColumns = `id, dm_conversation_id, seq, sender_id, recipient_id, type, content, status, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.DMMessage, error) {
	msg := &models.DMMessage{}
	var msgType, status string
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msg.RecipientID,
		&msgType, &msg.Content, &status, &msg.CreatedAt)
	msg.Type = models.MessageType(msgType)
	msg.Status = models.DeliveryStatus(status)
	return msg, err
}

func (s *PostgresDMStore) queryMessages(ctx context.Context, query string, args ...any) ([]*models.DMMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.DMMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresDMStore) GetMessage(ctx context.Context, dmID string, seq int64) (*models.DMMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM dm_messages WHERE dm_conversation_id = $1 AND seq = $2`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, dmID, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.ErrMessageNotFound, dmID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s/%d: %w", dmID, seq, err)
	}
	return msg, nil
}

func (s *PostgresDMStore) GetMessages(ctx context.Context, dmID string, fromSeq, toSeq int64) ([]*models.DMMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM dm_messages
		WHERE dm_conversation_id = $1 AND seq BETWEEN $2 AND $3
		ORDER BY seq ASC`
	msgs, err := s.queryMessages(ctx, query, dmID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("get messages for DM %s: %w", dmID, err)
	}
	return msgs, nil
}

func (s *PostgresDMStore) History(ctx context.Context, dmID string, beforeSeq int64, limit int) ([]*models.DMMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM dm_messages
		WHERE dm_conversation_id = $1 AND ($2 <= 0 OR seq < $2)
		ORDER BY seq DESC
		LIMIT $3`
	msgs, err := s.queryMessages(ctx, query, dmID, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("get history for DM %s: %w", dmID, err)
	}
	return msgs, nil
}

func (s *PostgresDMStore) PendingFor(ctx context.Context, dmID, recipientID string, uptoSeq int64) ([]*models.DMMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM dm_messages
		WHERE dm_conversation_id = $1 AND recipient_id = $2 AND status = $3 AND seq <= $4
		ORDER BY seq ASC`
	msgs, err := s.queryMessages(ctx, query, dmID, recipientID, string(models.StatusPending), uptoSeq)
	if err != nil {
		return nil, fmt.Errorf("get pending messages for DM %s: %w", dmID, err)
	}
	return msgs, nil
}

func (s *PostgresDMStore) UpdateStatus(ctx context.Context, dmID string, seq int64, to models.DeliveryStatus) (*models.DMMessage, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin update status: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + messageColumns + ` FROM dm_messages WHERE dm_conversation_id = $1 AND seq = $2 FOR UPDATE`
	msg, err := scanMessage(tx.QueryRowContext(ctx, query, dmID, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, models.NewError(models.ErrMessageNotFound, dmID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("load message %s/%d: %w", dmID, seq, err)
	}
	if !msg.Status.CanTransition(to) {
		return nil, false, models.NewError(models.ErrStatusRegression, string(msg.Status)+" -> "+string(to))
	}
	if msg.Status == to {
		return msg, false, nil
	}

	if _, err = tx.ExecContext(ctx, `UPDATE dm_messages SET status = $3 WHERE dm_conversation_id = $1 AND seq = $2`,
		dmID, seq, string(to)); err != nil {
		return nil, false, fmt.Errorf("update status %s/%d: %w", dmID, seq, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit status: %w", err)
	}
	msg.Status = to
	return msg, true, nil
}

// Close closes the database connection.
func (s *PostgresDMStore) Close() error {
	return s.db.Close()
}
