package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jungleboard/shared/authx"
	"jungleboard/shared/httpx"
	"jungleboard/shared/workflow"
	"jungleboard/tasks/internal/emitter"
	"jungleboard/tasks/internal/models"
	"jungleboard/tasks/internal/repos"
)

type Handler struct {
	Tasks   *repos.TasksRepo
	Emitter *emitter.Emitter
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.createTask)
	mux.HandleFunc("GET /api/v1/tasks", h.listTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.deleteTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/comments", h.addComment)
	mux.HandleFunc("GET /api/v1/tasks/{id}/comments", h.listComments)
	mux.HandleFunc("GET /api/v1/tasks/{id}/history", h.history)
}

type taskPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeIDs []string   `json:"assigneeIds"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toTaskPayload(t models.Task) taskPayload {
	assignees := t.AssigneeIDs
	if assignees == nil {
		assignees = []string{}
	}
	return taskPayload{
		ID:          t.TaskID.String(),
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		AssigneeIDs: assignees,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeIDs []string   `json:"assigneeIds"`
	DueDate     *time.Time `json:"dueDate"`
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "title is required", nil)
		return
	}
	if req.Status == "" {
		req.Status = workflow.TaskStatusTodo
	}
	if !workflow.IsTaskStatus(req.Status) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown status", map[string]any{"allowed": workflow.AllTaskStatuses()})
		return
	}
	if req.Priority == "" {
		req.Priority = workflow.PriorityMedium
	}
	if !workflow.IsPriority(req.Priority) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown priority", nil)
		return
	}

	task, err := h.Tasks.Create(r.Context(), models.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      workflow.NormalizeTaskStatus(req.Status),
		Priority:    strings.ToUpper(req.Priority),
		AssigneeIDs: req.AssigneeIDs,
		DueDate:     req.DueDate,
	}, actorID(r, req.AssigneeIDs))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create task", nil)
		return
	}

	// emit only after the commit; a publish failure never unwinds the write
	h.Emitter.TaskCreated(r.Context(), task)
	httpx.WriteJSON(w, http.StatusCreated, toTaskPayload(task))
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	page, size := pagination(r)
	tasks, total, err := h.Tasks.List(r.Context(), size, (page-1)*size)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list tasks", nil)
		return
	}
	data := make([]taskPayload, 0, len(tasks))
	for _, t := range tasks {
		data = append(data, toTaskPayload(t))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  data,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeTaskErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTaskPayload(task))
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	AssigneeIDs *[]string  `json:"assigneeIds"`
	DueDate     *time.Time `json:"dueDate"`
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	if req.Status != nil {
		normalized := workflow.NormalizeTaskStatus(*req.Status)
		if !workflow.IsTaskStatus(normalized) {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown status", map[string]any{"allowed": workflow.AllTaskStatuses()})
			return
		}
		req.Status = &normalized
	}
	if req.Priority != nil && !workflow.IsPriority(*req.Priority) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown priority", nil)
		return
	}

	var performedBy []string
	if req.AssigneeIDs != nil {
		performedBy = *req.AssigneeIDs
	}
	task, err := h.Tasks.Update(r.Context(), taskID, repos.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeIDs: req.AssigneeIDs,
		DueDate:     req.DueDate,
	}, actorID(r, performedBy), workflow.CanTransition)
	if err != nil {
		writeTaskErr(w, r, err)
		return
	}

	h.Emitter.TaskUpdated(r.Context(), task)
	httpx.WriteJSON(w, http.StatusOK, toTaskPayload(task))
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	if err := h.Tasks.Delete(r.Context(), taskID); err != nil {
		writeTaskErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": taskID.String()})
}

type addCommentRequest struct {
	Content  string `json:"content"`
	AuthorID string `json:"authorId"`
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	var req addCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "content is required", nil)
		return
	}
	authorID := req.AuthorID
	if auth, authed := authx.FromContext(r.Context()); authed && auth.Subject != "" {
		authorID = auth.Subject
	}
	if authorID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "authorId is required", nil)
		return
	}

	comment, task, err := h.Tasks.AddComment(r.Context(), taskID, authorID, req.Content)
	if err != nil {
		writeTaskErr(w, r, err)
		return
	}

	h.Emitter.CommentCreated(r.Context(), comment, task)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":        comment.CommentID.String(),
		"taskId":    comment.TaskID.String(),
		"authorId":  comment.AuthorID,
		"content":   comment.Content,
		"createdAt": comment.CreatedAt,
	})
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	page, size := pagination(r)
	comments, total, err := h.Tasks.ListComments(r.Context(), taskID, size, (page-1)*size)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list comments", nil)
		return
	}
	data := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		data = append(data, map[string]any{
			"id":        c.CommentID.String(),
			"taskId":    c.TaskID.String(),
			"authorId":  c.AuthorID,
			"content":   c.Content,
			"createdAt": c.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  data,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathTaskID(w, r)
	if !ok {
		return
	}
	entries, err := h.Tasks.ListHistory(r.Context(), taskID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load history", nil)
		return
	}
	data := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"id":          e.HistoryID.String(),
			"taskId":      e.TaskID.String(),
			"action":      e.Action,
			"performedBy": e.PerformedBy,
			"createdAt":   e.CreatedAt,
		}
		if len(e.Changes) > 0 {
			item["changes"] = json.RawMessage(e.Changes)
		}
		data = append(data, item)
	}
	httpx.WriteJSON(w, http.StatusOK, data)
}

func pathTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid task id", nil)
		return uuid.Nil, false
	}
	return taskID, true
}

func writeTaskErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repos.ErrTaskNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "task not found", nil)
	case errors.Is(err, repos.ErrInvalidStatusTransition):
		httpx.WriteError(w, r, http.StatusConflict, "FAILED_PRECONDITION", "invalid status transition", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "task operation failed", nil)
	}
}

// actorID picks who performed the mutation: the authenticated subject when
// present, otherwise the first assignee, matching the history convention.
func actorID(r *http.Request, assignees []string) string {
	if auth, ok := authx.FromContext(r.Context()); ok && auth.Subject != "" {
		return auth.Subject
	}
	if len(assignees) > 0 {
		return assignees[0]
	}
	return ""
}

func pagination(r *http.Request) (page int, size int) {
	page, size = 1, 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 && v <= 100 {
		size = v
	}
	return page, size
}
