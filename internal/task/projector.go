package task

import (
	"encoding/json"
	"time"
)

// TaskDetail is the wire shape for a single task display. Geometry is carried
// as a raw JSON value so the stored fragment is embedded verbatim; every text
// field goes through the standard encoder, so escaping is uniform.
type TaskDetail struct {
	ID          int64           `json:"id"`
	ParentID    int64           `json:"parentId"`
	Name        string          `json:"name"`
	Instruction string          `json:"instruction"`
	StatusName  string          `json:"statusName"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	Locked      bool            `json:"locked"`
	Created     time.Time       `json:"created"`
	Modified    time.Time       `json:"modified"`

	OSMUserID   *int64  `json:"osmUserId,omitempty"`
	UserID      *int64  `json:"userId,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// Project converts a (task, lock, last-modifying user) tuple into the wire
// record. The task pointer may be nil; callers that address one concrete task
// use ProjectOrFail instead.
func Project(t *Task, lock Lock, lastModified *UserSummary) *TaskDetail {
	if t == nil {
		return nil
	}
	detail := &TaskDetail{
		ID:          t.ID,
		ParentID:    t.ParentID,
		Name:        t.Name,
		Instruction: t.Instruction,
		StatusName:  t.Status.Name(),
		Status:      t.Status,
		Priority:    t.Priority,
		Geometry:    t.Geometry,
		Locked:      lock.Locked(),
		Created:     t.Created,
		Modified:    t.Modified,
	}
	if lastModified != nil {
		detail.OSMUserID = &lastModified.OSMID
		detail.UserID = &lastModified.ID
		detail.DisplayName = &lastModified.DisplayName
	}
	return detail
}

// ProjectOrFail is the display-path variant: absence of the addressed task is
// an error here, never an empty result.
func ProjectOrFail(t *Task, lock Lock, lastModified *UserSummary) (*TaskDetail, error) {
	if t == nil {
		return nil, ErrTaskNotFound
	}
	return Project(t, lock, lastModified), nil
}
