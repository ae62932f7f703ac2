package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 导出任务状态机：pending → running → completed | failed
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// ExportTask 一次导出运行的记录
type ExportTask struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"`
	Formats        []string   `json:"formats"`
	OutputDir      string     `json:"output_dir"`
	StartTime      *int64     `json:"start_time,omitempty"` // 时间过滤，秒级时间戳
	EndTime        *int64     `json:"end_time,omitempty"`
	Messages       int64      `json:"messages"`
	ResourcesTotal int64      `json:"resources_total"`
	ResourcesOK    int64      `json:"resources_ok"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// CreateTask 记录一个待执行的导出任务
func (db *DB) CreateTask(sessionID string, formats []string, outputDir string, startTime, endTime *int64) (*ExportTask, error) {
	task := &ExportTask{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Status:    TaskPending,
		Formats:   formats,
		OutputDir: outputDir,
		StartTime: startTime,
		EndTime:   endTime,
		CreatedAt: time.Now(),
	}
	_, err := db.Exec(`
		INSERT INTO export_tasks (id, session_id, status, formats, output_dir, start_time, end_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.SessionID, task.Status, strings.Join(formats, ","),
		task.OutputDir, task.StartTime, task.EndTime, task.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// MarkTaskRunning 任务开跑
func (db *DB) MarkTaskRunning(id string) error {
	return db.updateTaskStatus(id, TaskRunning, "", nil)
}

// MarkTaskCompleted 任务完成，写入统计
func (db *DB) MarkTaskCompleted(id string, messages, resourcesTotal, resourcesOK int64) error {
	now := time.Now()
	res, err := db.Exec(`
		UPDATE export_tasks
		SET status = ?, messages = ?, resources_total = ?, resources_ok = ?, finished_at = ?
		WHERE id = ?`,
		TaskCompleted, messages, resourcesTotal, resourcesOK, now, id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// MarkTaskFailed 任务失败，记录原因
func (db *DB) MarkTaskFailed(id string, reason string) error {
	now := time.Now()
	return db.updateTaskStatus(id, TaskFailed, reason, &now)
}

func (db *DB) updateTaskStatus(id, status, errMsg string, finishedAt *time.Time) error {
	res, err := db.Exec(`
		UPDATE export_tasks SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, finishedAt, id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// GetTask 按 ID 取任务
func (db *DB) GetTask(id string) (*ExportTask, error) {
	row := db.QueryRow(taskSelect+" WHERE id = ?", id)
	return scanTask(row)
}

// ListTasks 列出一个会话的任务，新的在前
func (db *DB) ListTasks(sessionID string) ([]*ExportTask, error) {
	rows, err := db.Query(taskSelect+" WHERE session_id = ? ORDER BY created_at DESC", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ExportTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

const taskSelect = `
	SELECT id, session_id, status, formats, output_dir, start_time, end_time,
	       messages, resources_total, resources_ok, error, created_at, finished_at
	FROM export_tasks`

func scanTask(row rowScanner) (*ExportTask, error) {
	var task ExportTask
	var formats string
	err := row.Scan(
		&task.ID, &task.SessionID, &task.Status, &formats, &task.OutputDir,
		&task.StartTime, &task.EndTime, &task.Messages, &task.ResourcesTotal,
		&task.ResourcesOK, &task.Error, &task.CreatedAt, &task.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if formats != "" {
		task.Formats = strings.Split(formats, ",")
	}
	return &task, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
