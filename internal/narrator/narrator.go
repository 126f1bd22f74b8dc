// Package narrator writes the opponent's commentary to the browser console.
//
// A Narrator follows session transitions and emits short message sequences
// into a Sink. Two timers add flavor on their own: an ambient ticker while the
// opponent is irritated or worse, and a randomized flood while in meltdown.
// Timers never touch game state; they only read the last seen snapshot.
package narrator

import (
	"sync"
	"time"

	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

// Console supplies message pools
type Console interface {
	RoundMessages(tier types.Tier, result types.RoundResult) []Message
	StreakMessages(side types.RoundResult) []Message
	TierCrossedMessages(tier types.Tier) []Message
	DevToolsMessages() []Message
	TabLeaveMessages(tier types.Tier) []Message
	MuteMessages(muted bool) []Message
	EndingMessages(ending types.EndingType) []Message
	FloodMessage() Message
	AmbientMessage(tier types.Tier) (Message, bool)
}

// Source is the part of the game manager a narrator follows
type Source interface {
	Subscribe(listener interfaces.Listener) func()
	GetCurrentState() types.GameSession
}

// Narrator turns transitions into console messages
type Narrator struct {
	console Console
	sink    Sink
	cfg     config.NarratorConfig
	rng     interfaces.Random
	logger  *zap.Logger

	lock        sync.Mutex
	current     types.GameSession
	unsubscribe func()

	ambientStop chan struct{}
	ambientTier types.Tier
	floodTimer  *time.Timer
	floodGen    int
}

// New creates a narrator; rng drives the flood delay
func New(cfg config.NarratorConfig, console Console, sink Sink, rng interfaces.Random, logger *zap.Logger) *Narrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Narrator{
		console: console,
		sink:    sink,
		cfg:     cfg,
		rng:     rng,
		logger:  logger,
	}
}

// Attach subscribes to source and starts timers for its current tier
func (n *Narrator) Attach(source Source) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.unsubscribe != nil {
		return
	}
	n.current = source.GetCurrentState()
	n.unsubscribe = source.Subscribe(n.OnTransition)
	n.updateAmbient(n.current.TensionTier)
}

// Stop unsubscribes and cancels timers. Calling it again is harmless.
func (n *Narrator) Stop() {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.unsubscribe != nil {
		n.unsubscribe()
		n.unsubscribe = nil
	}
	n.clearTimers()
}

// OnTransition reacts to one published transition
func (n *Narrator) OnTransition(prev, current types.GameSession) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.current = current
	tier := current.TensionTier

	// Round revealed
	if prev.RoundPhase != types.RoundPhaseRevealing && current.RoundPhase == types.RoundPhaseRevealing && current.LastRoundResult != types.ResultNone {
		n.emitAll(tier, n.console.RoundMessages(tier, current.LastRoundResult))

		switch {
		case current.ConsecutivePlayerWins >= 3 && prev.ConsecutivePlayerWins < 3:
			n.emitAll(tier, n.console.StreakMessages(types.ResultPlayerWin))
		case current.ConsecutiveRobotWins >= 3 && prev.ConsecutiveRobotWins < 3:
			n.emitAll(tier, n.console.StreakMessages(types.ResultRobotWin))
		}
	}

	if prev.TensionTier != tier {
		n.emitAll(tier, n.console.TierCrossedMessages(tier))
		n.updateAmbient(tier)

		if tier == types.TierMeltdown && prev.TensionTier != types.TierMeltdown {
			n.startFlood()
		} else if tier != types.TierMeltdown && prev.TensionTier == types.TierMeltdown {
			n.stopFlood()
		}
	}

	if current.TabLeaveCount > prev.TabLeaveCount {
		n.emitAll(tier, n.console.TabLeaveMessages(tier))
	}

	if !prev.DevToolsOpened && current.DevToolsOpened {
		n.emitAll(tier, n.console.DevToolsMessages())
	}

	if prev.MusicMuted != current.MusicMuted {
		n.emitAll(tier, n.console.MuteMessages(current.MusicMuted))
	}

	if prev.Phase != types.PhaseEnding && current.Phase == types.PhaseEnding && current.EndingType != types.EndingNone {
		n.clearTimers()
		n.emitAll(tier, n.console.EndingMessages(current.EndingType))
	}

	// reset
	if prev.Phase != types.PhaseLanding && current.Phase == types.PhaseLanding {
		n.clearTimers()
		n.updateAmbient(tier)
	}
}

func (n *Narrator) emitAll(tier types.Tier, messages []Message) {
	for _, msg := range messages {
		n.sink.Emit(tier, msg)
	}
}

func (n *Narrator) clearTimers() {
	n.stopAmbient()
	n.stopFlood()
}

func (n *Narrator) ambientInterval(tier types.Tier) time.Duration {
	switch tier {
	case types.TierIrritated:
		return time.Duration(n.cfg.IrritatedIntervalMs) * time.Millisecond
	case types.TierUnstable, types.TierMeltdown:
		return time.Duration(n.cfg.UnstableIntervalMs) * time.Millisecond
	}
	return 0
}

// updateAmbient restarts the ambient ticker for tier. Callers hold n.lock.
func (n *Narrator) updateAmbient(tier types.Tier) {
	n.stopAmbient()

	interval := n.ambientInterval(tier)
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	n.ambientStop = stop
	n.ambientTier = tier

	go func() {
		for {
			select {
			case <-ticker.C:
				n.ambientTick(stop)
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (n *Narrator) stopAmbient() {
	if n.ambientStop != nil {
		close(n.ambientStop)
		n.ambientStop = nil
		n.ambientTier = ""
	}
}

func (n *Narrator) ambientTick(stop chan struct{}) {
	n.lock.Lock()
	defer n.lock.Unlock()

	select {
	case <-stop:
		return
	default:
	}
	if n.current.Phase != types.PhasePlaying {
		return
	}
	if msg, ok := n.console.AmbientMessage(n.current.TensionTier); ok {
		n.sink.Emit(n.current.TensionTier, msg)
	}
}

// startFlood begins the meltdown chain. Callers hold n.lock.
func (n *Narrator) startFlood() {
	if n.floodTimer != nil {
		return
	}
	n.floodGen++
	n.scheduleFlood(n.floodGen)
}

func (n *Narrator) scheduleFlood(gen int) {
	n.floodTimer = time.AfterFunc(n.floodDelay(), func() {
		n.floodTick(gen)
	})
}

func (n *Narrator) floodDelay() time.Duration {
	lo, hi := n.cfg.FloodMinMs, n.cfg.FloodMaxMs
	ms := lo
	if hi > lo && n.rng != nil {
		ms = lo + n.rng.Intn(hi-lo+1)
	}
	return time.Duration(ms) * time.Millisecond
}

func (n *Narrator) floodTick(gen int) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if gen != n.floodGen || n.floodTimer == nil {
		return
	}
	if n.current.Phase != types.PhasePlaying || n.current.TensionTier != types.TierMeltdown {
		n.stopFlood()
		return
	}
	n.sink.Emit(types.TierMeltdown, n.console.FloodMessage())
	n.scheduleFlood(gen)
}

func (n *Narrator) stopFlood() {
	if n.floodTimer != nil {
		n.floodTimer.Stop()
		n.floodTimer = nil
		n.floodGen++
	}
}

// Running reports which timers are active, for diagnostics
func (n *Narrator) Running() (ambient types.Tier, flood bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.ambientTier, n.floodTimer != nil
}
