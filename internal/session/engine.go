package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GideonEse/fete/internal/member"
	"github.com/GideonEse/fete/internal/store"
)

var (
	// ErrSessionActive means a session already occupies the singleton slot.
	ErrSessionActive = errors.New("session: a session is already active")
	// ErrNoSession means no session occupies the slot.
	ErrNoSession = errors.New("session: no active session")
)

// Engine owns the singleton current-session slot and the history archive.
// All mutations are serialized by a mutex; the detection loop and the HTTP
// handlers share one engine.
type Engine struct {
	mu        sync.Mutex
	kv        store.KV
	registry  *member.Registry
	log       *zap.Logger
	lateAfter time.Duration
	now       func() time.Time

	current *Session
	history []ArchivedSession
}

// NewEngine builds an engine and loads history from the persistence
// collaborator. A missing or malformed history payload starts empty.
func NewEngine(ctx context.Context, kv store.KV, registry *member.Registry, lateAfter time.Duration, log *zap.Logger) *Engine {
	e := &Engine{
		kv:        kv,
		registry:  registry,
		log:       log,
		lateAfter: lateAfter,
		now:       time.Now,
	}
	raw, err := kv.Get(ctx, store.KeySessionHistory)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("loading session history failed, starting empty", zap.Error(err))
		}
		return e
	}
	if err := json.Unmarshal(raw, &e.history); err != nil {
		log.Warn("stored session history malformed, starting empty", zap.Error(err))
		e.history = nil
	}

	// A live session left behind by a previous process cannot be resumed:
	// the detector and camera are gone. Surface it and clear the slot.
	if orphan, err := kv.Get(ctx, store.KeyCurrentSession); err == nil && len(orphan) > 0 && string(orphan) != "null" {
		log.Warn("found orphaned live session from a previous run, discarding")
		e.persistCurrent(ctx)
	}
	return e
}

// StartSession creates a new session in the entry-scan phase. Fails if the
// slot is occupied.
func (e *Engine) StartSession(ctx context.Context) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return Session{}, ErrSessionActive
	}
	e.current = &Session{
		ID:        uuid.NewString(),
		State:     StateEntryActive,
		StartTime: e.now(),
	}
	e.persistCurrent(ctx)
	e.log.Info("session started", zap.String("session_id", e.current.ID))
	return e.snapshotLocked(), nil
}

// StartExitScan moves an entry-scan session to the exit-scan phase without
// touching the attendee list. A missing session is a silent no-op.
func (e *Engine) StartExitScan(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.State != StateEntryActive {
		return
	}
	e.current.State = StateExitActive
	e.persistCurrent(ctx)
	e.log.Info("exit scan started", zap.String("session_id", e.current.ID))
}

// EndSession archives the current session into history and frees the slot.
func (e *Engine) EndSession(ctx context.Context) (ArchivedSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ArchivedSession{}, ErrNoSession
	}
	e.current.State = StateClosed
	archived := archive(e.current, e.now())
	e.history = append([]ArchivedSession{archived}, e.history...)
	e.current = nil

	e.persistCurrent(ctx)
	e.persistHistory(ctx)
	e.log.Info("session archived",
		zap.String("session_id", archived.ID),
		zap.Int("attendees", len(archived.Attendees)))
	return archived, nil
}

// ResolveArrival records an arrival for a matched member. Duplicate matches
// of the same member are no-ops, so repeated detections across polling
// cycles cannot create duplicate attendees. Unknown member ids are dropped.
// Status is Late iff the arrival is strictly more than the late threshold
// after the session start.
func (e *Engine) ResolveArrival(ctx context.Context, memberID string) (Attendee, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.State != StateEntryActive {
		return Attendee{}, false
	}
	for _, a := range e.current.Attendees {
		if a.MemberID == memberID {
			return Attendee{}, false
		}
	}
	m, ok := e.registry.FindByID(memberID)
	if !ok {
		return Attendee{}, false
	}

	now := e.now()
	status := StatusOnTime
	if now.Sub(e.current.StartTime) > e.lateAfter {
		status = StatusLate
	}
	attendee := Attendee{
		MemberID:     m.ID,
		Name:         m.Name,
		MatricNumber: m.MatricNumber,
		Role:         m.Role,
		AvatarRef:    m.AvatarRef,
		ArrivalTime:  now,
		Status:       status,
	}
	e.current.Attendees = append([]Attendee{attendee}, e.current.Attendees...)
	e.persistCurrent(ctx)
	e.log.Info("arrival recorded",
		zap.String("member_id", m.ID),
		zap.String("name", m.Name),
		zap.String("status", string(status)))
	return attendee, true
}

// ResolveExit sets the exit time for a member who already arrived. Valid
// only during the exit-scan phase; the first exit match wins and later ones
// are no-ops, as are exits for members who never arrived.
func (e *Engine) ResolveExit(ctx context.Context, memberID string) (Attendee, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.State != StateExitActive {
		return Attendee{}, false
	}
	for i := range e.current.Attendees {
		a := &e.current.Attendees[i]
		if a.MemberID != memberID {
			continue
		}
		if a.ExitTime != nil {
			return Attendee{}, false
		}
		t := e.now()
		a.ExitTime = &t
		e.persistCurrent(ctx)
		e.log.Info("exit recorded",
			zap.String("member_id", a.MemberID),
			zap.String("name", a.Name))
		return *a, true
	}
	return Attendee{}, false
}

// State returns the lifecycle position of the slot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return StateInactive
	}
	return e.current.State
}

// Current returns a snapshot of the live session.
func (e *Engine) Current() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Session{}, false
	}
	return e.snapshotLocked(), true
}

// History returns the archive, most recent first.
func (e *Engine) History() []ArchivedSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ArchivedSession, len(e.history))
	copy(out, e.history)
	return out
}

// FindArchived returns an archived session by id.
func (e *Engine) FindArchived(id string) (ArchivedSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.history {
		if s.ID == id {
			return s, true
		}
	}
	return ArchivedSession{}, false
}

func (e *Engine) snapshotLocked() Session {
	snap := *e.current
	snap.Attendees = make([]Attendee, len(e.current.Attendees))
	copy(snap.Attendees, e.current.Attendees)
	return snap
}

// persistCurrent mirrors the live slot to the KV so a restart can detect an
// orphaned session. Best effort.
func (e *Engine) persistCurrent(ctx context.Context) {
	raw, err := json.Marshal(e.current)
	if err != nil {
		e.log.Error("marshal current session failed", zap.Error(err))
		return
	}
	if err := e.kv.Set(ctx, store.KeyCurrentSession, raw); err != nil {
		e.log.Warn("persisting current session failed, in-memory state remains authoritative", zap.Error(err))
	}
}

func (e *Engine) persistHistory(ctx context.Context) {
	raw, err := json.Marshal(e.history)
	if err != nil {
		e.log.Error("marshal session history failed", zap.Error(err))
		return
	}
	if err := e.kv.Set(ctx, store.KeySessionHistory, raw); err != nil {
		e.log.Warn("persisting session history failed, in-memory state remains authoritative", zap.Error(err))
	}
}
