package interfaces

import (
	"context"

	"github.com/user/roshambo/internal/types"
)

// Random is the uniform random seam shared by the core and content pools
type Random interface {
	// Intn returns a uniform integer in [0, n)
	Intn(n int) int
}

// Listener receives the session before and after each published transition.
// It must not call back into GameManager synchronously.
type Listener func(prev, current types.GameSession)

// GameManager defines the intents the UI can dispatch into the state machine
type GameManager interface {
	StartGame()
	BeginRound(choice types.Choice)
	RevealRound()
	CompleteReveal()
	HandlePermissionChoice(ctx context.Context, allowed bool)
	AdvanceDialogue()
	ApplyDevToolsDetected()
	ApplyTabLeave()
	PersistAbandonment()
	ToggleMute(muted bool)
	StartReboot()
	ResetGame()
	Subscribe(listener Listener) (unsubscribe func())
	GetCurrentState() types.GameSession
}

// MemoryStore is the best-effort durable PlayerMemory slot
type MemoryStore interface {
	Load() types.PlayerMemory
	Save(memory types.PlayerMemory)
	Clear()
	Update(mutate func(memory *types.PlayerMemory)) types.PlayerMemory
}

// PermissionProvider performs the actual browser permission request
type PermissionProvider interface {
	Request(ctx context.Context, permission types.PermissionType) (types.PermissionResult, error)
}

// RoundContext carries what round flavor text may depend on
type RoundContext struct {
	Tier          types.Tier
	Result        types.RoundResult
	Memory        types.PlayerMemory
	TabLeaveCount int
}

// DialogueProvider returns ordered monologue lines; the core only uses order and length
type DialogueProvider interface {
	Landing(memory types.PlayerMemory) []string
	Round(round RoundContext) []string
	Ending(ending types.EndingType) []string
	PermissionRequest(permission types.PermissionType, mode types.RequestMode, knownCity string) []string
	PermissionReaction(permission types.PermissionType, granted bool, data string) []string
	MuteReaction(tier types.Tier, muted bool) []string
}
