package session

import (
	"time"

	"github.com/GideonEse/fete/internal/member"
)

// State is the lifecycle position of the current-session slot.
type State string

const (
	StateInactive    State = "inactive"
	StateEntryActive State = "entry"
	StateExitActive  State = "exit"
	StateClosed      State = "closed"
)

// Status marks an arrival as on time or late.
type Status string

const (
	StatusOnTime Status = "on-time"
	StatusLate   Status = "late"
)

// Attendee is a per-session record of a member's arrival and optional exit.
// AvatarRef is carried for the live view only and never reaches history.
type Attendee struct {
	MemberID     string      `json:"member_id"`
	Name         string      `json:"name"`
	MatricNumber string      `json:"matric_number,omitempty"`
	Role         member.Role `json:"role"`
	AvatarRef    string      `json:"avatar_ref,omitempty"`
	ArrivalTime  time.Time   `json:"arrival_time"`
	Status       Status      `json:"status"`
	ExitTime     *time.Time  `json:"exit_time,omitempty"`
}

// Session is one live attendance event. Attendees are ordered
// most-recent-first for the live feed.
type Session struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	StartTime time.Time  `json:"start_time"`
	Attendees []Attendee `json:"attendees"`
}

// ArchivedAttendee is the history-safe projection of an Attendee: identity,
// times and status only, never image or descriptor payloads.
type ArchivedAttendee struct {
	MemberID     string      `json:"member_id"`
	Name         string      `json:"name"`
	MatricNumber string      `json:"matric_number,omitempty"`
	Role         member.Role `json:"role"`
	ArrivalTime  time.Time   `json:"arrival_time"`
	Status       Status      `json:"status"`
	ExitTime     *time.Time  `json:"exit_time,omitempty"`
}

// ArchivedSession is a closed session as stored in history. Immutable.
type ArchivedSession struct {
	ID        string             `json:"id"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Attendees []ArchivedAttendee `json:"attendees"`
}

// archive projects a live session to its history shape. This is the single
// slimming boundary: every field not listed on ArchivedAttendee is dropped
// here and nowhere else.
func archive(s *Session, endedAt time.Time) ArchivedSession {
	out := ArchivedSession{
		ID:        s.ID,
		StartTime: s.StartTime,
		EndTime:   endedAt,
		Attendees: make([]ArchivedAttendee, len(s.Attendees)),
	}
	for i, a := range s.Attendees {
		out.Attendees[i] = ArchivedAttendee{
			MemberID:     a.MemberID,
			Name:         a.Name,
			MatricNumber: a.MatricNumber,
			Role:         a.Role,
			ArrivalTime:  a.ArrivalTime,
			Status:       a.Status,
			ExitTime:     a.ExitTime,
		}
	}
	return out
}
