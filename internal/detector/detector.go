package detector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GideonEse/fete/internal/feed"
	"github.com/GideonEse/fete/internal/matcher"
	"github.com/GideonEse/fete/internal/metrics"
	"github.com/GideonEse/fete/internal/session"
	"github.com/GideonEse/fete/internal/vision"
)

// Preflight gate failures. These block starting a live session; they are
// advisory checks, not states of the session itself.
var (
	ErrNoCameraAccess      = errors.New("detector: camera not accessible")
	ErrModelsNotLoaded     = errors.New("detector: vision models not loaded")
	ErrNoMembersRegistered = errors.New("detector: no members registered")
	ErrNoBiometricMembers  = errors.New("detector: no members with biometric capture")
)

// Detector is the part of the vision client the loop needs.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]vision.Detection, error)
	Health(ctx context.Context) error
}

// Engine is the part of the session state machine the loop drives.
type Engine interface {
	State() session.State
	Current() (session.Session, bool)
	ResolveArrival(ctx context.Context, memberID string) (session.Attendee, bool)
	ResolveExit(ctx context.Context, memberID string) (session.Attendee, bool)
}

// Registry is the corpus source for preflight checks and matcher rebuilds.
type Registry interface {
	NonAdminCount() int
	BiometricCount() int
}

// Runner owns the polling loop: every interval it samples a frame, asks the
// vision collaborator for detections, matches each descriptor and forwards
// resolved identities to the engine.
type Runner struct {
	Camera   vision.Camera
	Vision   Detector
	Matcher  *matcher.Index
	Engine   Engine
	Registry Registry
	Feed     feed.Feed
	Interval time.Duration
	Log      *zap.Logger

	inFlight atomic.Bool
}

// Handle controls a running loop. Stop is idempotent and releases the poll
// timer and the camera.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	camera vision.Camera
	done   chan struct{}
}

// Stop cancels the loop and releases the camera. Safe to call twice.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.camera.Release()
	})
}

// Preflight verifies every precondition for a live session: camera access,
// vision models, and a registry with at least one biometric member.
func (r *Runner) Preflight(ctx context.Context) error {
	if r.Registry.NonAdminCount() == 0 {
		return ErrNoMembersRegistered
	}
	if r.Registry.BiometricCount() == 0 {
		return ErrNoBiometricMembers
	}
	if err := r.Vision.Health(ctx); err != nil {
		return errors.Join(ErrModelsNotLoaded, err)
	}
	if err := r.Camera.Acquire(ctx); err != nil {
		return errors.Join(ErrNoCameraAccess, err)
	}
	return nil
}

// Start runs preflight and launches the polling loop. The camera is
// released on preflight failure and again by Handle.Stop.
func (r *Runner) Start(ctx context.Context) (*Handle, error) {
	if err := r.Preflight(ctx); err != nil {
		r.Camera.Release()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, camera: r.Camera, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.tick(loopCtx)
			}
		}
	}()

	r.Log.Info("detection loop started", zap.Duration("interval", r.Interval))
	return h, nil
}

// tick dispatches one matching pass unless a previous one is still in
// flight. The compare-and-set guard means a hung vision call stalls only
// its own pass, never the loop.
func (r *Runner) tick(ctx context.Context) {
	metrics.DetectionTicks.Inc()
	if !r.inFlight.CompareAndSwap(false, true) {
		metrics.DetectionSkips.Inc()
		return
	}
	go func() {
		defer r.inFlight.Store(false)
		if err := r.pass(ctx); err != nil {
			metrics.DetectionErrors.Inc()
			r.Log.Warn("detection pass failed", zap.Error(err))
		}
	}()
}

// pass captures one frame and forwards every confident match to the engine.
// Detections below threshold, or with no corpus at all, are dropped: they
// are unknown faces, not errors.
func (r *Runner) pass(ctx context.Context) error {
	state := r.Engine.State()
	if state != session.StateEntryActive && state != session.StateExitActive {
		return nil
	}

	frame, err := r.Camera.Frame(ctx)
	if err != nil {
		return err
	}
	detections, err := r.Vision.Detect(ctx, frame)
	if err != nil {
		return err
	}

	for _, det := range detections {
		m, ok, err := r.Matcher.Match(det.Descriptor)
		if err != nil {
			// Corpus empty: degrade to no matches.
			metrics.FacesUnknown.Inc()
			continue
		}
		if !ok {
			metrics.FacesUnknown.Inc()
			continue
		}
		metrics.FacesMatched.Inc()
		r.forward(ctx, m.MemberID)
	}
	return nil
}

// forward routes a matched member to arrival or exit resolution depending
// on the phase, and publishes recorded changes to the live feed.
func (r *Runner) forward(ctx context.Context, memberID string) {
	cur, ok := r.Engine.Current()
	if !ok {
		return
	}
	switch cur.State {
	case session.StateEntryActive:
		if attendee, recorded := r.Engine.ResolveArrival(ctx, memberID); recorded {
			r.publish(ctx, feed.Event{
				Type:         feed.EventArrival,
				SessionID:    cur.ID,
				MemberID:     attendee.MemberID,
				Name:         attendee.Name,
				MatricNumber: attendee.MatricNumber,
				Status:       attendee.Status,
				At:           attendee.ArrivalTime,
			})
		}
	case session.StateExitActive:
		if attendee, recorded := r.Engine.ResolveExit(ctx, memberID); recorded {
			r.publish(ctx, feed.Event{
				Type:         feed.EventExit,
				SessionID:    cur.ID,
				MemberID:     attendee.MemberID,
				Name:         attendee.Name,
				MatricNumber: attendee.MatricNumber,
				At:           *attendee.ExitTime,
			})
		}
	}
}

func (r *Runner) publish(ctx context.Context, evt feed.Event) {
	if r.Feed == nil {
		return
	}
	if err := r.Feed.Publish(ctx, evt); err != nil {
		r.Log.Warn("publishing live event failed", zap.Error(err))
	}
}
