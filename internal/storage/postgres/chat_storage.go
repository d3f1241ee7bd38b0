package postgres

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ChatStorage implements the ChatStorage interface for Postgres
type ChatStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewChatStorage creates a new ChatStorage instance
func NewChatStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ChatStorage {
	return &ChatStorage{db: db, logger: logger}
}

func (s *ChatStorage) CreateChat(ctx context.Context, chat *models.Chat) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO chats (id, title, created_at) VALUES ($1, $2, $3)`,
		chat.ID, chat.Title, chat.CreatedAt)
	return mapError(err, "chat not found")
}

func (s *ChatStorage) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	c := &models.Chat{}
	err := s.db.pool.QueryRow(ctx,
		`SELECT id, title, created_at FROM chats WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err, "chat not found")
	}
	return c, nil
}

func (s *ChatStorage) ListChats(ctx context.Context) ([]*models.Chat, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, title, created_at FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapError(err, "chat not found")
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0)
	for rows.Next() {
		c := &models.Chat{}
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt); err != nil {
			return nil, mapError(err, "chat not found")
		}
		chats = append(chats, c)
	}
	return chats, mapError(rows.Err(), "chat not found")
}

func (s *ChatStorage) UpdateChatTitle(ctx context.Context, id, title string) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE chats SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return mapError(err, "chat not found")
	}
	if tag.RowsAffected() == 0 {
		return common.E(common.KindNotFound, "chat not found")
	}
	return nil
}

func (s *ChatStorage) DeleteChat(ctx context.Context, id string) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "chat not found")
	}
	if tag.RowsAffected() == 0 {
		return common.E(common.KindNotFound, "chat not found")
	}

	s.logger.Debug().Str("chat_id", id).Msg("Chat deleted")
	return nil
}

func (s *ChatStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	projectIDs := msg.ProjectIDs
	if projectIDs == nil {
		projectIDs = []string{}
	}

	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, role, content, project_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, projectIDs, msg.CreatedAt)
	return mapError(err, "chat not found")
}

func (s *ChatStorage) ListMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, chat_id, role, content, project_ids, created_at
		 FROM messages WHERE chat_id = $1 ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, mapError(err, "message not found")
	}
	defer rows.Close()

	msgs := make([]*models.Message, 0)
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.ProjectIDs, &m.CreatedAt); err != nil {
			return nil, mapError(err, "message not found")
		}
		msgs = append(msgs, m)
	}
	return msgs, mapError(rows.Err(), "message not found")
}
