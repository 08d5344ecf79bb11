package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Decarabia/maproulette2/internal/task"
)

// anonymousUserID is the effective user when a request carries no identity.
// Session resolution lives outside this service; handlers just take the
// already-resolved value.
const anonymousUserID int64 = -999

func effectiveUser(r *http.Request) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get("userId"))
	if raw == "" {
		return anonymousUserID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return anonymousUserID
	}
	return id
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, key)), 10, 64)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "task id must be an integer")
		return
	}

	t, err := s.store.GetByID(r.Context(), id)
	if err != nil && !errors.Is(err, task.ErrStoreNotFound) {
		respondError(w, http.StatusInternalServerError, "task_get_failed", err.Error())
		return
	}
	var found *task.Task
	if err == nil {
		found = &t
	}
	s.respondTaskDetail(w, r, found)
}

// respondTaskDetail runs the display path: pair the task with its current
// lock and last-modifying user, then project. A nil task is the one place
// absence becomes NotFound.
func (s *Server) respondTaskDetail(w http.ResponseWriter, r *http.Request, t *task.Task) {
	ctx := r.Context()
	var (
		lock         task.Lock
		lastModified *task.UserSummary
	)
	if t != nil {
		var err error
		lock, err = s.locks.Current(ctx, t.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "lock_read_failed", err.Error())
			return
		}
		user, err := s.store.LastModifiedUser(ctx, t.ID)
		switch {
		case err == nil:
			lastModified = &user
		case errors.Is(err, task.ErrStoreNotFound):
			// Never modified; projection simply omits the user fields.
		default:
			respondError(w, http.StatusInternalServerError, "audit_read_failed", err.Error())
			return
		}
	}

	detail, err := task.ProjectOrFail(t, lock, lastModified)
	if err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleRandomTask(w http.ResponseWriter, r *http.Request) {
	s.handleRandomSelection(w, r, "random", s.selector.Random)
}

func (s *Server) handleRandomPriorityTask(w http.ResponseWriter, r *http.Request) {
	s.handleRandomSelection(w, r, "random_priority", s.selector.RandomWithPriority)
}

func (s *Server) handleRandomSelection(w http.ResponseWriter, r *http.Request, strategy string, selectTask func(context.Context, int64, task.SearchParameters) (*task.Task, error)) {
	params, err := task.ParseSearchParameters(r.URL.Query())
	if err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "invalid_search", verr.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_search", err.Error())
		return
	}

	picked, err := selectTask(r.Context(), effectiveUser(r), params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_selection_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveSelection(strategy, picked != nil)
	}
	if picked == nil {
		respondError(w, http.StatusNotFound, "no_task_available", "no task matches the given search parameters")
		return
	}
	s.respondTaskDetail(w, r, picked)
}

func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	s.handleSequence(w, r, s.selector.NextInSequence)
}

func (s *Server) handlePreviousTask(w http.ResponseWriter, r *http.Request) {
	s.handleSequence(w, r, s.selector.PreviousInSequence)
}

func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request, walk func(context.Context, int64, int64, []task.Status) (*task.Task, error)) {
	parentID, err := pathID(r, "parentId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_challenge_id", "challenge id must be an integer")
		return
	}
	currentID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "task id must be an integer")
		return
	}
	params, err := task.ParseSearchParameters(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_search", err.Error())
		return
	}

	neighbor, err := walk(r.Context(), parentID, currentID, params.Statuses)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_selection_failed", err.Error())
		return
	}
	if neighbor == nil {
		respondError(w, http.StatusNotFound, "no_task_available", "challenge has no task matching the status filter")
		return
	}
	s.respondTaskDetail(w, r, neighbor)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "task id must be an integer")
		return
	}
	userID := effectiveUser(r)

	if _, err := s.locks.Acquire(r.Context(), id, userID); err != nil {
		switch {
		case errors.Is(err, task.ErrStoreNotFound):
			respondError(w, http.StatusNotFound, "task_not_found", "could not find task")
		case errors.Is(err, task.ErrLockHeld):
			respondError(w, http.StatusConflict, "task_locked", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "task_lock_failed", err.Error())
		}
		return
	}
	if s.metrics != nil {
		s.metrics.LockEvents.WithLabelValues("acquired").Inc()
	}

	t, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_get_failed", err.Error())
		return
	}
	s.respondTaskDetail(w, r, &t)
}

func (s *Server) handleReleaseTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "task id must be an integer")
		return
	}

	if err := s.locks.Release(r.Context(), id, effectiveUser(r)); err != nil {
		if errors.Is(err, task.ErrLockNotHeld) {
			respondError(w, http.StatusBadRequest, "lock_not_held", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "task_release_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.LockEvents.WithLabelValues("released").Inc()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": id,
		"status":  "released",
	})
}

type setStatusRequest struct {
	Status      *int   `json:"status"`
	UserID      int64  `json:"userId"`
	OSMID       int64  `json:"osmId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "task id must be an integer")
		return
	}

	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Status == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "status is required")
		return
	}
	status := task.Status(*req.Status)
	if !status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown status code")
		return
	}

	byUser := task.UserSummary{OSMID: req.OSMID, ID: req.UserID, DisplayName: req.DisplayName}
	if byUser.ID == 0 {
		byUser.ID = anonymousUserID
	}
	if err := s.store.SetStatus(r.Context(), id, status, byUser); err != nil {
		if errors.Is(err, task.ErrStoreNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", "could not find task")
			return
		}
		respondError(w, http.StatusInternalServerError, "task_status_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.StatusChanges.WithLabelValues(status.Name()).Inc()
	}
	s.events.Publish(task.Event{Type: task.EventStatusChanged, TaskID: id, UserID: byUser.ID, Status: &status})

	t, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_get_failed", err.Error())
		return
	}
	s.respondTaskDetail(w, r, &t)
}

type createTaskRequest struct {
	Name        string          `json:"name"`
	Instruction string          `json:"instruction"`
	Geometry    json.RawMessage `json:"geometry"`
	Priority    int             `json:"priority"`
	Location    *task.Point     `json:"location"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathID(r, "parentId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_challenge_id", "challenge id must be an integer")
		return
	}

	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	priority := task.Priority(req.Priority)
	if !priority.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_priority", "unknown priority code")
		return
	}

	created, err := s.store.Create(r.Context(), task.Task{
		ParentID:    parentID,
		Name:        req.Name,
		Instruction: req.Instruction,
		Geometry:    req.Geometry,
		Status:      task.StatusCreated,
		Priority:    priority,
		Location:    req.Location,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_create_failed", err.Error())
		return
	}
	s.events.Publish(task.Event{Type: task.EventTaskCreated, TaskID: created.ID, ParentID: created.ParentID})

	respondJSON(w, http.StatusCreated, created)
}
