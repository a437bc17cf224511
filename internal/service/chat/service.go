package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/storage"
	"fridgeclinic/internal/worker"

	"github.com/google/uuid"
)

const defaultReplyTimeout = 120 * time.Second

// Diagnoses looks up the diagnosis a conversation is about.
type Diagnoses interface {
	Get(ctx context.Context, id string) (*models.Diagnosis, error)
}

// Replier produces the assistant's answer for a prepared prompt.
type Replier interface {
	Reply(ctx context.Context, conversationID string, messages []models.Message, onChunk func(string) error) (string, error)
}

type Options struct {
	ReplyTimeout time.Duration
}

// Service manages conversations about a diagnosis and answers messages.
type Service struct {
	db        *storage.DB
	diagnoses Diagnoses
	replier   Replier
	workers   *worker.Manager

	replyTimeout time.Duration
	now          func() time.Time
}

func NewService(db *storage.DB, diagnoses Diagnoses, replier Replier, workers *worker.Manager, opts Options) *Service {
	s := &Service{
		db:           db,
		diagnoses:    diagnoses,
		replier:      replier,
		workers:      workers,
		replyTimeout: opts.ReplyTimeout,
		now:          time.Now,
	}
	if s.replyTimeout <= 0 {
		s.replyTimeout = defaultReplyTimeout
	}
	return s
}

// CreateConversation starts a conversation about an existing diagnosis. An
// empty title is derived from the diagnosis.
func (s *Service) CreateConversation(ctx context.Context, diagnosisID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(diagnosisID) == "" {
		return nil, fmt.Errorf("%w: diagnosis_id is required", faults.ErrInvalidInput)
	}
	diag, err := s.diagnoses.Get(ctx, diagnosisID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("%s – %s", diag.Brand, diag.IssueCategory)
	}
	now := s.now().UTC()
	conv := &models.Conversation{
		ID:          uuid.NewString(),
		DiagnosisID: diagnosisID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    []models.Message{},
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_conversations (id, diagnosis_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.DiagnosisID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	slog.Info("conversation created", "conversation_id", conv.ID, "diagnosis_id", diagnosisID)
	return conv, nil
}

// ListConversations returns a diagnosis's conversations newest first, each
// with its messages in order.
func (s *Service) ListConversations(ctx context.Context, diagnosisID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, diagnosis_id, title, created_at, updated_at FROM chat_conversations WHERE diagnosis_id = ? ORDER BY created_at DESC`,
		diagnosisID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.DiagnosisID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range conversations {
		msgs, err := s.loadMessages(ctx, conversations[i].ID)
		if err != nil {
			return nil, err
		}
		conversations[i].Messages = msgs
	}
	return conversations, nil
}

// GetConversation returns one conversation with its messages.
func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages, err = s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages. It reports
// whether anything was deleted.
func (s *Service) DeleteConversation(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_conversations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation rows affected: %w", err)
	}
	if s.workers != nil {
		s.workers.Purge(id)
	}
	return affected > 0, nil
}

func (s *Service) conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, diagnosis_id, title, created_at, updated_at FROM chat_conversations WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.DiagnosisID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: conversation %s", faults.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *Service) loadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM chat_messages WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// addMessage stores a message and updates the conversation's updated_at timestamp.
func (s *Service) addMessage(ctx context.Context, conversationID string, role models.Role, content string) (*models.Message, error) {
	now := s.now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}
