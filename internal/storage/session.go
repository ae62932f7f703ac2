package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 表示记录不存在
var ErrNotFound = errors.New("not found")

// 会话类型
const (
	ChatTypeGroup  = "group"
	ChatTypeFriend = "friend"
)

// Session 会话实体：一个群或一个好友的聊天上下文
type Session struct {
	ID           string    `json:"id"`
	ChatType     string    `json:"chat_type"`
	ChatID       string    `json:"chat_id"`
	ChatName     string    `json:"chat_name"`
	LastSeq      string    `json:"last_seq"` // 上次导出推进到的消息序号
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpsertSession 按 (chat_type, chat_id) 建或取会话，名字有变则更新
func (db *DB) UpsertSession(chatType, chatID, chatName string) (*Session, error) {
	if chatType != ChatTypeGroup && chatType != ChatTypeFriend {
		return nil, fmt.Errorf("invalid chat type %q", chatType)
	}

	existing, err := db.GetSessionByChat(chatType, chatID)
	if err == nil {
		if chatName != "" && chatName != existing.ChatName {
			now := time.Now()
			_, err := db.Exec(
				"UPDATE sessions SET chat_name = ?, updated_at = ? WHERE id = ?",
				chatName, now, existing.ID,
			)
			if err != nil {
				return nil, err
			}
			existing.ChatName = chatName
			existing.UpdatedAt = now
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New().String(),
		ChatType:  chatType,
		ChatID:    chatID,
		ChatName:  chatName,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	_, err = db.Exec(`
		INSERT INTO sessions (id, chat_type, chat_id, chat_name, last_seq, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', 0, ?, ?)`,
		s.ID, s.ChatType, s.ChatID, s.ChatName, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession 按 ID 取会话
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.QueryRow(`
		SELECT id, chat_type, chat_id, chat_name, last_seq, message_count, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetSessionByChat 按 (chat_type, chat_id) 取会话
func (db *DB) GetSessionByChat(chatType, chatID string) (*Session, error) {
	row := db.QueryRow(`
		SELECT id, chat_type, chat_id, chat_name, last_seq, message_count, created_at, updated_at
		FROM sessions WHERE chat_type = ? AND chat_id = ?`, chatType, chatID)
	return scanSession(row)
}

// ListSessions 按更新时间倒序列出所有会话
func (db *DB) ListSessions() ([]*Session, error) {
	rows, err := db.Query(`
		SELECT id, chat_type, chat_id, chat_name, last_seq, message_count, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchSession 更新会话的导出进度
func (db *DB) TouchSession(id, lastSeq string, messageCount int64) error {
	res, err := db.Exec(`
		UPDATE sessions SET last_seq = ?, message_count = ?, updated_at = ? WHERE id = ?`,
		lastSeq, messageCount, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession 删除会话（任务记录级联删除）
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ChatType, &s.ChatID, &s.ChatName, &s.LastSeq, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
