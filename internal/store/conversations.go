package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Conversation represents an AI chat thread in the database
type Conversation struct {
	ID            string
	UserID        string
	TaskID        string // "" = not task-scoped
	ProjectID     string // "" = not project-scoped
	Type          string // general, decompose, enrich, research, draft
	Title         string
	MessageCount  int
	TotalTokens   int
	LastMessageAt int64 // unix ms, 0 = no messages yet
	CreatedAt     int64 // unix ms
	UpdatedAt     int64 // unix ms
}

// Message is a single persisted turn in a conversation
type Message struct {
	ID             string // ULID, sorts by creation
	ConversationID string
	Role           string // user, assistant
	Content        string
	InputTokens    int
	OutputTokens   int
	CreatedAt      int64 // unix ms
}

const conversationColumns = `id, user_id, task_id, project_id, type, title,
       message_count, total_tokens, last_message_at, created_at, updated_at`

// CreateConversation inserts a new conversation
func (s *Store) CreateConversation(c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}
	if c.Type == "" {
		c.Type = "general"
	}

	query := `
	INSERT INTO conversations (` + conversationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		c.ID, c.UserID, nullStr(c.TaskID), nullStr(c.ProjectID),
		c.Type, c.Title, c.MessageCount, c.TotalTokens,
		nullInt(c.LastMessageAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation owned by userID, or nil if absent
func (s *Store) GetConversation(userID, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListConversations retrieves a user's conversations, most recently active first
func (s *Store) ListConversations(userID, taskID string, limit int) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ?`
	args := []interface{}{userID}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// AppendMessage persists a message and updates the conversation's counters in
// one transaction. message_count always advances by one; token totals and
// last_message_at move with the message. A conversation row therefore never
// disagrees with its messages table.
func (s *Store) AppendMessage(m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
	INSERT INTO messages (id, conversation_id, role, content, input_tokens, output_tokens, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Role, m.Content, m.InputTokens, m.OutputTokens, m.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	result, err := tx.Exec(`
	UPDATE conversations SET
		message_count = message_count + 1,
		total_tokens = total_tokens + ?,
		last_message_at = ?,
		updated_at = ?
	WHERE id = ?
	`, m.InputTokens+m.OutputTokens, m.CreatedAt, m.CreatedAt, m.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation counters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", m.ConversationID)
	}

	return tx.Commit()
}

// ListMessages retrieves a conversation's messages in creation order
func (s *Store) ListMessages(conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, conversation_id, role, content, input_tokens, output_tokens, created_at
	FROM messages WHERE conversation_id = ? ORDER BY id ASC
	`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.InputTokens, &m.OutputTokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanConversation(row rowScanner) (*Conversation, error) {
	c := &Conversation{}
	var taskID, projectID sql.NullString
	var lastMessageAt sql.NullInt64

	err := row.Scan(
		&c.ID, &c.UserID, &taskID, &projectID, &c.Type, &c.Title,
		&c.MessageCount, &c.TotalTokens, &lastMessageAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		c.TaskID = taskID.String
	}
	if projectID.Valid {
		c.ProjectID = projectID.String
	}
	if lastMessageAt.Valid {
		c.LastMessageAt = lastMessageAt.Int64
	}
	return c, nil
}
