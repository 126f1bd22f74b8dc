package game

import (
	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/types"
)

// MaxTension is the ceiling for base and effective tension
const MaxTension = 100

// Spike and base bumps applied by the state machine
const (
	StreakSpike         = 4
	StreakLength        = 3
	MatchPointSpike     = 5
	DevToolsSpike       = 5
	DevToolsBase        = 5
	DevToolsRoundBase   = 3
	TabLeaveSpike       = 2
	TabLeaveBase        = 2
	TabLeaveBaseCap     = 3 // only the first leaves raise the base
	TabLeaveRoundBase   = 1
	PermissionDenySpike = 3
)

var tierThresholds = []struct {
	tier types.Tier
	min  int
}{
	{types.TierMeltdown, 80},
	{types.TierUnstable, 60},
	{types.TierIrritated, 40},
	{types.TierUneasy, 20},
}

// TierFor maps a tension score onto its band. Negative scores are calm.
func TierFor(score int) types.Tier {
	for _, t := range tierThresholds {
		if score >= t.min {
			return t.tier
		}
	}
	return types.TierCalm
}

// EffectiveTension combines base and spike, capped at MaxTension
func EffectiveTension(base, spike int) int {
	return min(base+spike, MaxTension)
}

// RoundTensionDelta is how much base tension a resolved round adds
func RoundTensionDelta(scoreDiff int, opponentLost bool, rng interfaces.Random) int {
	delta := 3
	if scoreDiff < 0 {
		scoreDiff = -scoreDiff
	}
	delta += scoreDiff * 2
	if opponentLost {
		delta += 2
	} else {
		delta++
	}
	return delta + rng.Intn(3)
}

// Tension is a consistent base/spike/tier triple
type Tension struct {
	Base  int
	Spike int
	Tier  types.Tier
}

// ApplyTension recomputes the tier from base+spike. Crossing into meltdown
// absorbs the spike into the base so meltdown sustains itself.
func ApplyTension(base, spike int) Tension {
	effective := EffectiveTension(base, spike)
	tier := TierFor(effective)
	if tier == types.TierMeltdown {
		return Tension{Base: effective, Spike: 0, Tier: tier}
	}
	return Tension{Base: base, Spike: spike, Tier: tier}
}

func (t Tension) applyTo(s *types.GameSession) {
	s.TensionBase = t.Base
	s.TensionSpike = t.Spike
	s.TensionTier = t.Tier
}

// SeedTension computes a fresh session's base tension from what the player did before
func SeedTension(memory types.PlayerMemory) int {
	base := 0
	switch memory.LastEnding {
	case types.EndingEscaped:
		base = 40
	case types.EndingBroken:
		base = 20
	}
	base += min(memory.AbandonmentCount*5, 20)
	return min(base, MaxTension)
}
