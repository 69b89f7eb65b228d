package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jungleboard/tasks/internal/models"
)

var (
	ErrTaskNotFound            = errors.New("task not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

type TasksRepo struct {
	pool *pgxpool.Pool
}

func NewTasksRepo(pool *pgxpool.Pool) *TasksRepo {
	return &TasksRepo{pool: pool}
}

const taskColumns = `task_id, title, description, status, priority, assignee_ids, due_date, created_at, updated_at`

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.TaskID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssigneeIDs, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, ErrTaskNotFound
	}
	return t, err
}

// Create inserts the task and its CREATED history row in one transaction.
func (r *TasksRepo) Create(ctx context.Context, t models.Task, performedBy string) (models.Task, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Task{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	t, err = scanTask(tx.QueryRow(ctx, `
		INSERT INTO tasks (title, description, status, priority, assignee_ids, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+taskColumns+`
	`, t.Title, t.Description, t.Status, t.Priority, t.AssigneeIDs, t.DueDate, now))
	if err != nil {
		return models.Task{}, err
	}

	if err = appendHistory(ctx, tx, models.HistoryEntry{
		TaskID:      t.TaskID,
		Action:      models.HistoryActionCreated,
		PerformedBy: performedBy,
	}); err != nil {
		return models.Task{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (r *TasksRepo) GetByID(ctx context.Context, taskID uuid.UUID) (models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE task_id = $1
	`, taskID))
}

func (r *TasksRepo) List(ctx context.Context, limit int, offset int) ([]models.Task, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.TaskID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssigneeIDs, &t.DueDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	AssigneeIDs *[]string
	DueDate     *time.Time
}

// Update applies a partial patch under a row lock, records the field-level
// diff in task_history, and returns the updated row. The status transition
// check runs against the locked row, not the caller's stale copy.
func (r *TasksRepo) Update(ctx context.Context, taskID uuid.UUID, patch TaskPatch, performedBy string, canTransition func(string, string) bool) (models.Task, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Task{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	prev, err := scanTask(tx.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE task_id = $1
		FOR UPDATE
	`, taskID))
	if err != nil {
		return models.Task{}, err
	}

	next := prev
	changes := map[string]map[string]any{}
	if patch.Title != nil && *patch.Title != prev.Title {
		changes["title"] = map[string]any{"old": prev.Title, "new": *patch.Title}
		next.Title = *patch.Title
	}
	if patch.Description != nil && *patch.Description != prev.Description {
		changes["description"] = map[string]any{"old": prev.Description, "new": *patch.Description}
		next.Description = *patch.Description
	}
	if patch.Status != nil && *patch.Status != prev.Status {
		if canTransition != nil && !canTransition(prev.Status, *patch.Status) {
			err = ErrInvalidStatusTransition
			return models.Task{}, err
		}
		changes["status"] = map[string]any{"old": prev.Status, "new": *patch.Status}
		next.Status = *patch.Status
	}
	if patch.Priority != nil && *patch.Priority != prev.Priority {
		changes["priority"] = map[string]any{"old": prev.Priority, "new": *patch.Priority}
		next.Priority = *patch.Priority
	}
	if patch.AssigneeIDs != nil {
		changes["assigneeIds"] = map[string]any{"old": prev.AssigneeIDs, "new": *patch.AssigneeIDs}
		next.AssigneeIDs = *patch.AssigneeIDs
	}
	if patch.DueDate != nil {
		changes["dueDate"] = map[string]any{"old": prev.DueDate, "new": *patch.DueDate}
		next.DueDate = patch.DueDate
	}

	now := time.Now().UTC()
	next.UpdatedAt = now
	_, err = tx.Exec(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, status = $4, priority = $5, assignee_ids = $6, due_date = $7, updated_at = $8
		WHERE task_id = $1
	`, taskID, next.Title, next.Description, next.Status, next.Priority, next.AssigneeIDs, next.DueDate, now)
	if err != nil {
		return models.Task{}, err
	}

	var changesJSON []byte
	if len(changes) > 0 {
		if changesJSON, err = json.Marshal(changes); err != nil {
			return models.Task{}, err
		}
	}
	if err = appendHistory(ctx, tx, models.HistoryEntry{
		TaskID:      taskID,
		Action:      models.HistoryActionUpdated,
		Changes:     changesJSON,
		PerformedBy: performedBy,
	}); err != nil {
		return models.Task{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Task{}, err
	}
	return next, nil
}

func (r *TasksRepo) Delete(ctx context.Context, taskID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// AddComment inserts the comment and its history row in one transaction and
// returns the comment together with the parent task, which the emitter needs
// for title and assignees.
func (r *TasksRepo) AddComment(ctx context.Context, taskID uuid.UUID, authorID string, content string) (models.Comment, models.Task, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Comment{}, models.Task{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	task, err := scanTask(tx.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE task_id = $1
		FOR UPDATE
	`, taskID))
	if err != nil {
		return models.Comment{}, models.Task{}, err
	}

	var c models.Comment
	err = tx.QueryRow(ctx, `
		INSERT INTO comments (task_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING comment_id, task_id, author_id, content, created_at
	`, taskID, authorID, content, time.Now().UTC()).
		Scan(&c.CommentID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt)
	if err != nil {
		return models.Comment{}, models.Task{}, err
	}

	changesJSON, err := json.Marshal(map[string]map[string]any{
		"commentId": {"old": nil, "new": c.CommentID},
	})
	if err != nil {
		return models.Comment{}, models.Task{}, err
	}
	if err = appendHistory(ctx, tx, models.HistoryEntry{
		TaskID:      taskID,
		Action:      models.HistoryActionCommentAdded,
		Changes:     changesJSON,
		PerformedBy: authorID,
	}); err != nil {
		return models.Comment{}, models.Task{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Comment{}, models.Task{}, err
	}
	return c, task, nil
}

func (r *TasksRepo) ListComments(ctx context.Context, taskID uuid.UUID, limit int, offset int) ([]models.Comment, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM comments WHERE task_id = $1`, taskID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT comment_id, task_id, author_id, content, created_at
		FROM comments
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, taskID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.CommentID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt); err != nil {
			return nil, 0, err
		}
		comments = append(comments, c)
	}
	return comments, total, rows.Err()
}

func (r *TasksRepo) ListHistory(ctx context.Context, taskID uuid.UUID) ([]models.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT history_id, task_id, action, changes, performed_by, created_at
		FROM task_history
		WHERE task_id = $1
		ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(&h.HistoryID, &h.TaskID, &h.Action, &h.Changes, &h.PerformedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func appendHistory(ctx context.Context, db DBTX, h models.HistoryEntry) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO task_history (task_id, action, changes, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, h.TaskID, h.Action, h.Changes, h.PerformedBy, h.CreatedAt)
	return err
}
