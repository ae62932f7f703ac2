package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertSessionCreatesOnce(t *testing.T) {
	db := openTestDB(t)

	s1, err := db.UpsertSession(ChatTypeGroup, "12345", "技术群")
	require.NoError(t, err)
	assert.NotEmpty(t, s1.ID)
	assert.Equal(t, "技术群", s1.ChatName)

	s2, err := db.UpsertSession(ChatTypeGroup, "12345", "")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID, "同一聊天返回同一会话")
	assert.Equal(t, "技术群", s2.ChatName, "空名不覆盖")

	s3, err := db.UpsertSession(ChatTypeGroup, "12345", "技术群（新）")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s3.ID)
	assert.Equal(t, "技术群（新）", s3.ChatName)
}

func TestUpsertSessionRejectsBadType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.UpsertSession("channel", "1", "x")
	assert.Error(t, err)
}

func TestSessionIsolationByType(t *testing.T) {
	db := openTestDB(t)

	g, err := db.UpsertSession(ChatTypeGroup, "10086", "群")
	require.NoError(t, err)
	f, err := db.UpsertSession(ChatTypeFriend, "10086", "好友")
	require.NoError(t, err)
	assert.NotEqual(t, g.ID, f.ID, "同号的群与好友是不同会话")
}

func TestTouchSessionProgress(t *testing.T) {
	db := openTestDB(t)

	s, err := db.UpsertSession(ChatTypeFriend, "10001", "老王")
	require.NoError(t, err)

	require.NoError(t, db.TouchSession(s.ID, "8842", 1500))
	got, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "8842", got.LastSeq)
	assert.Equal(t, int64(1500), got.MessageCount)

	assert.ErrorIs(t, db.TouchSession("no-such-id", "1", 1), ErrNotFound)
}

func TestListSessions(t *testing.T) {
	db := openTestDB(t)

	_, err := db.UpsertSession(ChatTypeGroup, "1", "甲")
	require.NoError(t, err)
	_, err = db.UpsertSession(ChatTypeGroup, "2", "乙")
	require.NoError(t, err)

	sessions, err := db.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestDeleteSessionCascades(t *testing.T) {
	db := openTestDB(t)

	s, err := db.UpsertSession(ChatTypeGroup, "1", "甲")
	require.NoError(t, err)
	task, err := db.CreateTask(s.ID, []string{"json"}, "/tmp/out", nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.DeleteSession(s.ID))
	_, err = db.GetSession(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrNotFound, "任务随会话级联删除")
}
