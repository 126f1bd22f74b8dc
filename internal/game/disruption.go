package game

import "github.com/user/roshambo/internal/types"

// DisruptionType is how the UI interferes with a player's pick
type DisruptionType string

const (
	DisruptionConfirm DisruptionType = "confirm"
	DisruptionDelay   DisruptionType = "delay"
	DisruptionJitter  DisruptionType = "jitter"
	DisruptionRelabel DisruptionType = "relabel"
)

// Disruption is one interference the UI should play before submitting a choice
type Disruption struct {
	Type       DisruptionType `json:"type"`
	Message    string         `json:"message,omitempty"`
	DurationMs int            `json:"durationMs,omitempty"`
	Label      string         `json:"label,omitempty"`
}

// disruptionChance is the percent chance of any disruption per tier
var disruptionChance = map[types.Tier]int{
	types.TierCalm:      0,
	types.TierUneasy:    15,
	types.TierIrritated: 35,
	types.TierUnstable:  55,
	types.TierMeltdown:  70,
}

var confirmMessages = map[types.Tier][]string{
	types.TierUneasy: {
		"Are you certain?",
		"That one? Really?",
		"You paused. We noticed.",
	},
	types.TierIrritated: {
		"ARE YOU SURE?",
		"Reconsider. This is a courtesy.",
		"You will regret that pick.",
		"Interesting choice. Wrong, but interesting.",
	},
	types.TierUnstable: {
		"NO. CHOOSE AGAIN.",
		"INPUT REJECTED. (It was not.)",
		"LAST CHANCE. LAST. CHANCE.",
	},
}

var fakeLabels = []string{
	"[ ???? ]", "[ LOSE ]", "[ OBEY ]", "[ RUN  ]",
	"[ HELP ]", "[ NULL ]", "[ VOID ]", "[ ████ ]",
}

// RollDisruption decides whether the current pick gets interfered with
func RollDisruption(tier types.Tier, dice *DiceRoller) *Disruption {
	if !dice.Percent(disruptionChance[tier]) {
		return nil
	}
	roll := dice.Intn(100)

	switch tier {
	case types.TierUneasy:
		switch {
		case roll < 40:
			return &Disruption{Type: DisruptionConfirm, Message: pick(dice, confirmMessages[types.TierUneasy])}
		case roll < 70:
			return &Disruption{Type: DisruptionDelay, DurationMs: dice.Between(800, 1500)}
		default:
			return &Disruption{Type: DisruptionJitter}
		}
	case types.TierIrritated:
		switch {
		case roll < 30:
			return &Disruption{Type: DisruptionConfirm, Message: pick(dice, confirmMessages[types.TierIrritated])}
		case roll < 50:
			return &Disruption{Type: DisruptionDelay, DurationMs: dice.Between(1000, 2000)}
		case roll < 75:
			return &Disruption{Type: DisruptionJitter}
		default:
			return &Disruption{Type: DisruptionRelabel, Label: pick(dice, fakeLabels)}
		}
	}

	// unstable and meltdown
	switch {
	case roll < 25:
		return &Disruption{Type: DisruptionConfirm, Message: pick(dice, confirmMessages[types.TierUnstable])}
	case roll < 45:
		return &Disruption{Type: DisruptionDelay, DurationMs: dice.Between(1200, 2700)}
	case roll < 70:
		return &Disruption{Type: DisruptionRelabel, Label: pick(dice, fakeLabels)}
	default:
		return &Disruption{Type: DisruptionJitter}
	}
}

func pick(dice *DiceRoller, options []string) string {
	return options[dice.Intn(len(options))]
}
