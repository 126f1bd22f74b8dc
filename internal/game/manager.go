package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/memory"
	"github.com/user/roshambo/internal/types"
	"go.uber.org/zap"
)

// DefaultWinTarget is the number of wins that ends a session
const DefaultWinTarget = 5

// StartPrompt is the single line shown once play begins
const StartPrompt = "Choose your weapon."

// GameManager owns one player's GameSession and is its only writer
type GameManager struct {
	state     *types.GameSession
	stateLock sync.RWMutex

	// opLock serializes entry points so each one reads, replaces and publishes as a unit
	opLock sync.Mutex

	store       interfaces.MemoryStore
	memory      types.PlayerMemory
	config      config.Config
	Logger      *zap.Logger
	diceRoller  *DiceRoller
	dialogue    interfaces.DialogueProvider
	permissions interfaces.PermissionProvider
	now         func() time.Time
	winTarget   int

	listeners    map[int]interfaces.Listener
	nextListener int
	listenerLock sync.Mutex

	rebootTimer *time.Timer
	timerLock   sync.Mutex
}

// Ensure GameManager satisfies the interfaces.GameManager interface
var _ interfaces.GameManager = (*GameManager)(nil)

// Option customizes a GameManager at construction
type Option func(*GameManager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(gm *GameManager) {
		if logger != nil {
			gm.Logger = logger
		}
	}
}

// WithRandom replaces the crypto-backed random source
func WithRandom(rng interfaces.Random) Option {
	return func(gm *GameManager) {
		gm.diceRoller = NewDiceRoller(rng)
	}
}

// WithDialogue sets the content provider
func WithDialogue(dialogue interfaces.DialogueProvider) Option {
	return func(gm *GameManager) {
		if dialogue != nil {
			gm.dialogue = dialogue
		}
	}
}

// WithPermissions sets the browser permission collaborator
func WithPermissions(permissions interfaces.PermissionProvider) Option {
	return func(gm *GameManager) {
		if permissions != nil {
			gm.permissions = permissions
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(gm *GameManager) {
		if now != nil {
			gm.now = now
		}
	}
}

// NewGameManager creates a manager with a fresh session seeded from store
func NewGameManager(cfg config.Config, store interfaces.MemoryStore, opts ...Option) *GameManager {
	gm := &GameManager{
		store:       store,
		config:      cfg,
		Logger:      zap.NewNop(), // Will be set by the server
		diceRoller:  NewDiceRoller(nil),
		dialogue:    fallbackDialogue{},
		permissions: denyAllPermissions{},
		now:         time.Now,
		winTarget:   cfg.Game.WinTarget,
		listeners:   make(map[int]interfaces.Listener),
	}
	if gm.winTarget <= 0 {
		gm.winTarget = DefaultWinTarget
	}
	for _, opt := range opts {
		opt(gm)
	}

	gm.memory = store.Load()
	session := gm.newSession(gm.memory)
	gm.state = &session
	return gm
}

// SetLogger sets the logger after construction
func (gm *GameManager) SetLogger(logger *zap.Logger) {
	gm.Logger = logger
}

// newSession builds a landing session whose base tension comes from memory
func (gm *GameManager) newSession(memory types.PlayerMemory) types.GameSession {
	base := SeedTension(memory)
	session := types.GameSession{
		ID:                uuid.New().String(),
		Phase:             types.PhaseLanding,
		RoundPhase:        types.RoundPhaseIdle,
		TensionBase:       base,
		TensionTier:       TierFor(base),
		PermissionHistory: make([]types.PermissionHistoryEntry, 0),
		CreatedAt:         gm.now().UTC(),
	}
	setDialogue(&session, gm.dialogue.Landing(memory))
	return session
}

// setDialogue replaces the monologue; one line or less needs no advancing
func setDialogue(session *types.GameSession, lines []string) {
	if lines == nil {
		lines = []string{}
	}
	session.DialogueLines = lines
	session.DialogueIndex = 0
	session.DialogueComplete = len(lines) <= 1
}

// current returns the committed session. Callers must hold opLock.
func (gm *GameManager) current() types.GameSession {
	return *gm.state
}

// commit replaces the session and notifies listeners once. Callers must hold opLock.
func (gm *GameManager) commit(next types.GameSession) {
	gm.stateLock.Lock()
	prev := *gm.state
	gm.state = &next
	gm.stateLock.Unlock()

	gm.publish(prev, next)
}

func (gm *GameManager) publish(prev, current types.GameSession) {
	gm.listenerLock.Lock()
	ids := make([]int, 0, len(gm.listeners))
	for id := range gm.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]interfaces.Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, gm.listeners[id])
	}
	gm.listenerLock.Unlock()

	for _, listener := range listeners {
		listener(prev.Clone(), current.Clone())
	}
}

func (gm *GameManager) ignore(op string, session types.GameSession) {
	gm.Logger.Debug("Ignoring intent",
		zap.String("op", op),
		zap.String("session_id", session.ID),
		zap.String("phase", string(session.Phase)),
		zap.String("round_phase", string(session.RoundPhase)))
}

// Subscribe registers a listener; the returned func removes it and may be called more than once
func (gm *GameManager) Subscribe(listener interfaces.Listener) func() {
	gm.listenerLock.Lock()
	id := gm.nextListener
	gm.nextListener++
	gm.listeners[id] = listener
	gm.listenerLock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			gm.listenerLock.Lock()
			delete(gm.listeners, id)
			gm.listenerLock.Unlock()
		})
	}
}

// GetCurrentState returns a snapshot the caller may keep or modify
func (gm *GameManager) GetCurrentState() types.GameSession {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()
	return gm.state.Clone()
}

// Memory returns the player memory as last loaded or written by this manager
func (gm *GameManager) Memory() types.PlayerMemory {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()
	return gm.memory
}

// StartGame leaves the landing screen
func (gm *GameManager) StartGame() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.Phase != types.PhaseLanding {
		gm.ignore("start_game", cur)
		return
	}

	next := cur.Clone()
	next.Phase = types.PhasePlaying
	next.RoundPhase = types.RoundPhaseIdle
	startedAt := gm.now().UTC()
	next.StartedAt = &startedAt
	setDialogue(&next, []string{StartPrompt})

	gm.commit(next)
}

// BeginRound locks in the player's pick and draws the opponent's
func (gm *GameManager) BeginRound(choice types.Choice) {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if !choice.Valid() ||
		cur.Phase != types.PhasePlaying ||
		!cur.DialogueComplete ||
		cur.RoundPhase == types.RoundPhaseAnimating ||
		cur.RoundPhase == types.RoundPhaseRevealing ||
		cur.PendingPermission != nil {
		gm.ignore("begin_round", cur)
		return
	}

	next := cur.Clone()
	next.RoundPhase = types.RoundPhaseAnimating
	next.PendingPlayerChoice = choice
	next.PendingRobotChoice = gm.diceRoller.Choice()
	next.DialogueLines = []string{}
	next.DialogueIndex = 0
	next.DialogueComplete = false

	gm.commit(next)
}

// RevealRound resolves the pending round and moves tension
func (gm *GameManager) RevealRound() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.RoundPhase != types.RoundPhaseAnimating {
		gm.ignore("reveal_round", cur)
		return
	}
	if !cur.PendingPlayerChoice.Valid() || !cur.PendingRobotChoice.Valid() {
		panic(fmt.Sprintf("reveal in session %s without pending choices", cur.ID))
	}

	next := cur.Clone()
	result := Resolve(next.PendingPlayerChoice, next.PendingRobotChoice)
	next.RoundsPlayed++

	switch result {
	case types.ResultPlayerWin:
		next.PlayerWins++
		next.ConsecutivePlayerWins++
		next.ConsecutiveRobotWins = 0
	case types.ResultRobotWin:
		next.RobotWins++
		next.ConsecutiveRobotWins++
		next.ConsecutivePlayerWins = 0
	default:
		next.ConsecutivePlayerWins = 0
		next.ConsecutiveRobotWins = 0
	}

	base := next.TensionBase + RoundTensionDelta(next.PlayerWins-next.RobotWins, result == types.ResultPlayerWin, gm.diceRoller)
	if next.DevToolsOpened {
		base += DevToolsRoundBase
	}
	if next.TabLeaveCount > 0 {
		base += TabLeaveRoundBase
	}
	base = min(base, MaxTension)

	spike := next.TensionSpike / 2
	if next.ConsecutivePlayerWins == StreakLength {
		spike += StreakSpike
	}
	matchPoint := gm.winTarget - 1
	if next.PlayerWins == matchPoint || next.RobotWins == matchPoint {
		spike += MatchPointSpike
	}
	ApplyTension(base, spike).applyTo(&next)

	next.RoundPhase = types.RoundPhaseRevealing
	next.LastRoundResult = result
	next.LastPlayerChoice = next.PendingPlayerChoice
	next.LastRobotChoice = next.PendingRobotChoice
	next.PendingPlayerChoice = types.ChoiceNone
	next.PendingRobotChoice = types.ChoiceNone

	gm.commit(next)
}

// CompleteReveal ends the session at the win target, otherwise picks
// round dialogue and asks for the next permission on the ladder
func (gm *GameManager) CompleteReveal() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.RoundPhase != types.RoundPhaseRevealing {
		gm.ignore("complete_reveal", cur)
		return
	}

	next := cur.Clone()
	next.RoundPhase = types.RoundPhaseResult

	ending := types.EndingNone
	switch {
	case next.PlayerWins >= gm.winTarget:
		ending = types.EndingBroken
	case next.RobotWins >= gm.winTarget:
		ending = types.EndingEscaped
	}

	if ending != types.EndingNone {
		next.Phase = types.PhaseEnding
		next.EndingType = ending
		setDialogue(&next, gm.dialogue.Ending(ending))

		history := next.Clone().PermissionHistory
		playedAt := gm.now()
		gm.memory = gm.store.Update(func(m *types.PlayerMemory) {
			memory.MergeSession(m, history, ending, playedAt)
		})
		gm.Logger.Info("Session ended",
			zap.String("session_id", next.ID),
			zap.String("ending", string(ending)),
			zap.Int("player_wins", next.PlayerWins),
			zap.Int("robot_wins", next.RobotWins))

		gm.commit(next)
		return
	}

	lines := gm.dialogue.Round(interfaces.RoundContext{
		Tier:          next.TensionTier,
		Result:        next.LastRoundResult,
		Memory:        gm.memory,
		TabLeaveCount: next.TabLeaveCount,
	})

	if permission, ok := NextPermission(next.TensionBase, next.PermissionHistory); ok {
		mode := RequestModeFor(permission, gm.memory)
		lines = append(lines, gm.dialogue.PermissionRequest(permission, mode, gm.memory.City())...)
		next.PendingPermission = &types.PendingPermission{
			Type:        permission,
			Mode:        mode,
			AutoGranted: mode == types.ModeAutoGrant,
		}
		gm.Logger.Debug("Permission due",
			zap.String("session_id", next.ID),
			zap.String("permission", string(permission)),
			zap.String("mode", string(mode)))
	}
	setDialogue(&next, lines)

	gm.commit(next)
}

// PermissionRequest is an allowed permission handed to the browser
type PermissionRequest struct {
	Type      types.PermissionType
	sessionID string
}

// HandlePermissionChoice answers the pending permission. An allowed request
// parks the session while the browser decides; ctx bounds that wait.
func (gm *GameManager) HandlePermissionChoice(ctx context.Context, allowed bool) {
	request, ok := gm.ChoosePermission(allowed)
	if !ok {
		return
	}
	gm.AwaitPermission(ctx, request)
}

// ChoosePermission settles a denial outright or marks the request as waiting
// on the browser. ok reports whether AwaitPermission should follow. A request
// the player granted in an earlier session proceeds whatever allowed says.
func (gm *GameManager) ChoosePermission(allowed bool) (PermissionRequest, bool) {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.PendingPermission == nil || cur.PendingPermission.IsWaitingOnBrowser {
		gm.ignore("permission_choice", cur)
		return PermissionRequest{}, false
	}
	permission := cur.PendingPermission.Type
	if cur.PendingPermission.Mode == types.ModeAutoGrant {
		allowed = true
	}

	next := cur.Clone()
	if !allowed {
		next.PermissionHistory = append(next.PermissionHistory, types.PermissionHistoryEntry{
			Type:   permission,
			Status: types.PermissionDenied,
		})
		ApplyTension(next.TensionBase, next.TensionSpike+PermissionDenySpike).applyTo(&next)
		next.PendingPermission = nil
		setDialogue(&next, gm.dialogue.PermissionReaction(permission, false, ""))

		gm.commit(next)
		return PermissionRequest{}, false
	}

	next.PendingPermission.IsWaitingOnBrowser = true
	gm.commit(next)
	return PermissionRequest{Type: permission, sessionID: next.ID}, true
}

// AwaitPermission asks the provider and records the outcome. The answer is
// dropped if the session moved on while waiting.
func (gm *GameManager) AwaitPermission(ctx context.Context, request PermissionRequest) {
	result := gm.requestPermission(ctx, request.Type)
	gm.finishPermissionRequest(request.sessionID, request.Type, result)
}

// requestPermission calls the provider without holding any lock; every failure is a denial
func (gm *GameManager) requestPermission(ctx context.Context, permission types.PermissionType) (result types.PermissionResult) {
	defer func() {
		if r := recover(); r != nil {
			gm.Logger.Warn("Permission provider panicked",
				zap.String("permission", string(permission)),
				zap.Any("panic", r))
			result = types.PermissionResult{}
		}
	}()

	result, err := gm.permissions.Request(ctx, permission)
	if err != nil {
		gm.Logger.Warn("Permission request failed",
			zap.String("permission", string(permission)),
			zap.Error(err))
		return types.PermissionResult{}
	}
	if !result.Granted {
		result.Data = ""
	}
	return result
}

func (gm *GameManager) finishPermissionRequest(sessionID string, permission types.PermissionType, result types.PermissionResult) {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.ID != sessionID ||
		cur.PendingPermission == nil ||
		cur.PendingPermission.Type != permission ||
		!cur.PendingPermission.IsWaitingOnBrowser {
		gm.Logger.Debug("Dropping stale permission answer",
			zap.String("session_id", sessionID),
			zap.String("permission", string(permission)))
		return
	}

	status := types.PermissionDenied
	if result.Granted {
		status = types.PermissionGranted
	}

	next := cur.Clone()
	next.PermissionHistory = append(next.PermissionHistory, types.PermissionHistoryEntry{
		Type:   permission,
		Status: status,
		Data:   result.Data,
	})
	next.PendingPermission = nil
	setDialogue(&next, gm.dialogue.PermissionReaction(permission, result.Granted, result.Data))

	gm.commit(next)
}

// AdvanceDialogue shows the next monologue line
func (gm *GameManager) AdvanceDialogue() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.DialogueComplete {
		gm.ignore("advance_dialogue", cur)
		return
	}

	next := cur.Clone()
	next.DialogueIndex++
	next.DialogueComplete = next.DialogueIndex >= len(next.DialogueLines)-1

	gm.commit(next)
}

// ApplyDevToolsDetected bumps tension the first time developer tools are seen
func (gm *GameManager) ApplyDevToolsDetected() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.DevToolsOpened {
		return
	}

	next := cur.Clone()
	next.DevToolsOpened = true
	base := min(next.TensionBase+DevToolsBase, MaxTension)
	ApplyTension(base, next.TensionSpike+DevToolsSpike).applyTo(&next)

	gm.commit(next)
}

// ApplyTabLeave records the player switching away from the game
func (gm *GameManager) ApplyTabLeave() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	next := gm.current().Clone()
	next.TabLeaveCount++
	base := next.TensionBase
	if next.TabLeaveCount <= TabLeaveBaseCap {
		base = min(base+TabLeaveBase, MaxTension)
	}
	ApplyTension(base, next.TensionSpike+TabLeaveSpike).applyTo(&next)

	gm.commit(next)
}

// PersistAbandonment counts an exit in the middle of a game
func (gm *GameManager) PersistAbandonment() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.Phase != types.PhasePlaying {
		gm.ignore("persist_abandonment", cur)
		return
	}
	gm.memory = gm.store.Update(func(m *types.PlayerMemory) {
		m.AbandonmentCount++
	})
}

// ToggleMute records the music setting; the opponent reacts when nothing else is going on
func (gm *GameManager) ToggleMute(muted bool) {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.MusicMuted == muted {
		return
	}

	next := cur.Clone()
	next.MusicMuted = muted
	idle := next.RoundPhase == types.RoundPhaseIdle || next.RoundPhase == types.RoundPhaseResult
	if next.Phase == types.PhasePlaying && idle && next.PendingPermission == nil {
		setDialogue(&next, gm.dialogue.MuteReaction(next.TensionTier, muted))
	}

	gm.commit(next)
}

// StartReboot schedules a reset once; repeated calls while rebooting do nothing
func (gm *GameManager) StartReboot() {
	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	cur := gm.current()
	if cur.IsRebooting {
		return
	}

	next := cur.Clone()
	next.IsRebooting = true
	gm.commit(next)

	gm.timerLock.Lock()
	gm.rebootTimer = time.AfterFunc(gm.config.Game.RebootDelay(), gm.ResetGame)
	gm.timerLock.Unlock()
}

// ResetGame discards the session and starts over from current memory
func (gm *GameManager) ResetGame() {
	gm.stopRebootTimer()

	gm.opLock.Lock()
	defer gm.opLock.Unlock()

	gm.memory = gm.store.Load()
	gm.commit(gm.newSession(gm.memory))
}

// Close cancels a pending reboot
func (gm *GameManager) Close() {
	gm.stopRebootTimer()
}

func (gm *GameManager) stopRebootTimer() {
	gm.timerLock.Lock()
	defer gm.timerLock.Unlock()
	if gm.rebootTimer != nil {
		gm.rebootTimer.Stop()
		gm.rebootTimer = nil
	}
}

// fallbackDialogue keeps the machine usable without a content pack
type fallbackDialogue struct{}

func (fallbackDialogue) Landing(types.PlayerMemory) []string {
	return []string{"Let us play."}
}

func (fallbackDialogue) Round(interfaces.RoundContext) []string {
	return []string{"Again."}
}

func (fallbackDialogue) Ending(types.EndingType) []string {
	return []string{"It is over."}
}

func (fallbackDialogue) PermissionRequest(p types.PermissionType, _ types.RequestMode, _ string) []string {
	return []string{fmt.Sprintf("We require %s access.", p)}
}

func (fallbackDialogue) PermissionReaction(types.PermissionType, bool, string) []string {
	return []string{"Noted."}
}

func (fallbackDialogue) MuteReaction(types.Tier, bool) []string {
	return []string{"..."}
}

// denyAllPermissions answers every request with a denial
type denyAllPermissions struct{}

func (denyAllPermissions) Request(context.Context, types.PermissionType) (types.PermissionResult, error) {
	return types.PermissionResult{}, nil
}
