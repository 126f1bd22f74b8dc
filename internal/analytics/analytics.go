// Package analytics turns game transitions into product events.
package analytics

import (
	"sync"
	"time"

	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

// Event names
const (
	EventGameStarted         = "game_started"
	EventRoundPlayed         = "round_played"
	EventPermissionRequested = "permission_requested"
	EventPermissionGranted   = "permission_granted"
	EventPermissionDenied    = "permission_denied"
	EventTensionChanged      = "tension_changed"
	EventEndingReached       = "ending_reached"
	EventReturnVisit         = "return_visit"
)

// Tracker receives events
type Tracker interface {
	Track(event string, props map[string]any)
}

// ZapTracker writes events as structured log lines
type ZapTracker struct {
	logger *zap.Logger
}

// NewZapTracker creates a tracker logging at info level
func NewZapTracker(logger *zap.Logger) *ZapTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapTracker{logger: logger}
}

func (z *ZapTracker) Track(event string, props map[string]any) {
	fields := make([]zap.Field, 0, len(props)+1)
	fields = append(fields, zap.String("event", event))
	for key, value := range props {
		fields = append(fields, zap.Any(key, value))
	}
	z.logger.Info("Analytics event", fields...)
}

// NopTracker drops every event
type NopTracker struct{}

func (NopTracker) Track(string, map[string]any) {}

// Source is the part of the game manager the listener follows
type Source interface {
	Subscribe(listener interfaces.Listener) func()
	GetCurrentState() types.GameSession
	Memory() types.PlayerMemory
}

// Listener derives events from session transitions
type Listener struct {
	tracker Tracker
	now     func() time.Time

	lock        sync.Mutex
	unsubscribe func()
}

// NewListener creates a listener; now measures game duration and defaults to time.Now
func NewListener(tracker Tracker, now func() time.Time) *Listener {
	if now == nil {
		now = time.Now
	}
	return &Listener{tracker: tracker, now: now}
}

// Attach subscribes to source and reports a return visit for known players
func (l *Listener) Attach(source Source) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.unsubscribe != nil {
		return
	}
	memory := source.Memory()
	if memory.PlayCount > 0 {
		props := map[string]any{
			"play_count":        memory.PlayCount,
			"abandonment_count": memory.AbandonmentCount,
		}
		if memory.LastEnding != types.EndingNone {
			props["last_ending"] = string(memory.LastEnding)
		}
		l.tracker.Track(EventReturnVisit, props)
	}
	l.unsubscribe = source.Subscribe(l.OnTransition)
}

// Stop unsubscribes from the source
func (l *Listener) Stop() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
}

// OnTransition emits the events implied by one transition
func (l *Listener) OnTransition(prev, current types.GameSession) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if prev.Phase != types.PhasePlaying && current.Phase == types.PhasePlaying && current.RoundsPlayed == 0 {
		l.tracker.Track(EventGameStarted, map[string]any{
			"tension": current.TensionBase,
			"tier":    string(current.TensionTier),
		})
	}

	if current.RoundsPlayed > prev.RoundsPlayed {
		l.tracker.Track(EventRoundPlayed, map[string]any{
			"round":        current.RoundsPlayed,
			"player":       string(current.LastPlayerChoice),
			"robot":        string(current.LastRobotChoice),
			"result":       string(current.LastRoundResult),
			"player_wins":  current.PlayerWins,
			"robot_wins":   current.RobotWins,
			"tension_tier": string(current.TensionTier),
		})
	}

	if current.PendingPermission != nil && (prev.PendingPermission == nil || prev.PendingPermission.Type != current.PendingPermission.Type) {
		l.tracker.Track(EventPermissionRequested, map[string]any{
			"type": string(current.PendingPermission.Type),
			"mode": string(current.PendingPermission.Mode),
		})
	}

	if len(current.PermissionHistory) > len(prev.PermissionHistory) {
		for _, entry := range current.PermissionHistory[len(prev.PermissionHistory):] {
			event := EventPermissionDenied
			if entry.Status == types.PermissionGranted {
				event = EventPermissionGranted
			}
			l.tracker.Track(event, map[string]any{"type": string(entry.Type)})
		}
	}

	if prev.TensionTier != current.TensionTier && current.Phase != types.PhaseLanding {
		l.tracker.Track(EventTensionChanged, map[string]any{
			"from":    string(prev.TensionTier),
			"to":      string(current.TensionTier),
			"tension": current.EffectiveTension(),
		})
	}

	if prev.Phase != types.PhaseEnding && current.Phase == types.PhaseEnding {
		props := map[string]any{
			"ending":      string(current.EndingType),
			"rounds":      current.RoundsPlayed,
			"player_wins": current.PlayerWins,
			"robot_wins":  current.RobotWins,
		}
		if current.StartedAt != nil {
			props["duration_ms"] = l.now().Sub(*current.StartedAt).Milliseconds()
		}
		l.tracker.Track(EventEndingReached, props)
	}
}
