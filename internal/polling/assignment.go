package polling

import (
	"context"
	"fmt"
	"time"

	apperrors "netbrain/pkg/errors"
)

// Assignment is one recurring check taken from a polling entry. It is a plain
// comparable value: a changed entry yields a new Assignment that replaces the
// old one, never an edited copy.
type Assignment struct {
	EntryID         string `json:"entry_id"`
	Domain          string `json:"domain"`
	Campaign        string `json:"campaign"`
	Test            string `json:"test"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// DueAt reports whether the assignment fires on the given tick. An interval
// of zero never fires.
func (a Assignment) DueAt(tick int) bool {
	return a.IntervalMinutes > 0 && tick%a.IntervalMinutes == 0
}

func (a Assignment) String() string {
	return fmt.Sprintf("%s(%s/%s every %dm)", a.EntryID, a.Domain, a.Campaign, a.IntervalMinutes)
}

// Record is the stored polling entry. Fields other than the assignment ones
// are bookkeeping written by the manager.
type Record struct {
	ID           string    `bson:"_id" json:"id"`
	Domain       string    `bson:"domain" json:"domain"`
	Campaign     string    `bson:"campaign" json:"campaign"`
	Test         string    `bson:"test" json:"test"`
	Interval     int       `bson:"interval" json:"interval"`
	LastSync     time.Time `bson:"last_sync,omitempty" json:"last_sync,omitempty"`
	LastSchedule time.Time `bson:"last_schedule,omitempty" json:"last_schedule,omitempty"`
}

// Field names updated by the manager.
const (
	FieldLastSync     = "last_sync"
	FieldLastSchedule = "last_schedule"
	FieldInterval     = "interval"
)

// AssignmentFromRecord converts a stored entry. Entries without an id or with
// a negative interval cannot be tracked.
func AssignmentFromRecord(r Record) (Assignment, error) {
	if r.ID == "" {
		return Assignment{}, apperrors.ErrValidation.WithDetail("reason", "polling entry has no id")
	}
	if r.Interval < 0 {
		return Assignment{}, apperrors.ErrValidation.
			WithDetail("entry_id", r.ID).
			WithDetail("reason", "negative interval")
	}
	return Assignment{
		EntryID:         r.ID,
		Domain:          r.Domain,
		Campaign:        r.Campaign,
		Test:            r.Test,
		IntervalMinutes: r.Interval,
	}, nil
}

// Store is the source of truth for polling entries. It is shared with other
// writers, so every read may observe concurrent changes.
type Store interface {
	ListAssignments(ctx context.Context) ([]Record, error)
	// GetAssignment returns an error matching apperrors.ErrNotFound when the
	// entry no longer exists.
	GetAssignment(ctx context.Context, id string) (Record, error)
	UpdateAssignmentField(ctx context.Context, id, field string, value interface{}) error
}
