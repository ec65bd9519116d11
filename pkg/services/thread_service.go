package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// ThreadService persists conversation threads and messages. The reply/thread
// counters are maintained by database triggers, not application code.
type ThreadService struct {
	db *sql.DB
}

// NewThreadService creates a thread service.
func NewThreadService(db *sql.DB) *ThreadService {
	return &ThreadService{db: db}
}

// CreateMessageRequest holds the fields for posting a message.
type CreateMessageRequest struct {
	ConversationID   string
	ConversationType models.ConversationType
	Content          string
	Role             string
	AgentID          string
	ThreadID         *string
	ReplyToMessageID *string
}

// CreateMessage inserts a message. Posting into a thread bumps the thread's
// reply_count (and the parent's thread_count) via triggers.
func (s *ThreadService) CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, conversation_type, content, role,
		                       agent_id, thread_id, reply_to_message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.ConversationID, req.ConversationType, req.Content, req.Role,
		nullIfEmpty(req.AgentID), req.ThreadID, req.ReplyToMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// CreateThread roots a thread at an existing parent message.
func (s *ThreadService) CreateThread(ctx context.Context, parentMessageID string) (*models.Thread, error) {
	parent, err := s.GetMessage(ctx, parentMessageID)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, parent_message_id, conversation_id, conversation_type)
		 VALUES (?, ?, ?, ?)`,
		id, parentMessageID, parent.ConversationID, parent.ConversationType)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return s.GetThread(ctx, id)
}

// GetThread returns a thread by ID.
func (s *ThreadService) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, parent_message_id, conversation_id, conversation_type,
		        reply_count, created_at, updated_at
		 FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.ParentMessageID, &t.ConversationID, &t.ConversationType,
			&t.ReplyCount, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", id, err)
	}
	return &t, nil
}

// GetMessage returns a message by ID.
func (s *ThreadService) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var (
		m       models.Message
		agentID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, conversation_type, content, role, agent_id,
		        thread_id, reply_to_message_id, thread_count, created_at, updated_at
		 FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ConversationID, &m.ConversationType, &m.Content, &m.Role,
			&agentID, &m.ThreadID, &m.ReplyToMessageID, &m.ThreadCount,
			&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	m.AgentID = agentID.String
	return &m, nil
}

// ListThreadMessages returns a thread's replies in creation order.
func (s *ThreadService) ListThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, conversation_type, content, role, agent_id,
		        thread_id, reply_to_message_id, thread_count, created_at, updated_at
		 FROM messages WHERE thread_id = ? ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m       models.Message
			agentID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ConversationType,
			&m.Content, &m.Role, &agentID, &m.ThreadID, &m.ReplyToMessageID,
			&m.ThreadCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.AgentID = agentID.String
		out = append(out, m)
	}
	return out, rows.Err()
}
