package dialogue

import (
	"strconv"
	"strings"

	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/narrator"
	"github.com/user/roshambo/internal/types"
)

const (
	// memoryLineChance is the percent chance a remembered detail is mixed into a round
	memoryLineChance = 20
	// tabReturnChance applies once the player has left more than once
	tabReturnChance = 40
	// countedTabChance picks a count-aware line from the third leave on
	countedTabChance = 50

	fallbackCity = "somewhere"
)

// Provider picks lines from a Pack
type Provider struct {
	pack *Pack
	rng  interfaces.Random
}

var (
	_ interfaces.DialogueProvider = (*Provider)(nil)
	_ narrator.Console            = (*Provider)(nil)
)

// NewProvider creates a provider over pack using rng for every pick
func NewProvider(pack *Pack, rng interfaces.Random) *Provider {
	return &Provider{pack: pack, rng: rng}
}

func (p *Provider) percent(chance int) bool {
	return p.rng.Intn(100) < chance
}

func pickLine(p *Provider, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[p.rng.Intn(len(pool))]
}

func pickMonologue(p *Provider, pool []Monologue) []string {
	if len(pool) == 0 {
		return []string{}
	}
	chosen := pool[p.rng.Intn(len(pool))]
	return append(make([]string, 0, len(chosen)), chosen...)
}

func pickMessages(p *Provider, pool [][]narrator.Message) []narrator.Message {
	if len(pool) == 0 {
		return nil
	}
	chosen := pool[p.rng.Intn(len(pool))]
	return append(make([]narrator.Message, 0, len(chosen)), chosen...)
}

func fill(line, placeholder, value string) string {
	return strings.ReplaceAll(line, placeholder, value)
}

// Landing greets first-time players from the landing pool and builds a
// personal greeting for anyone who finished a game before
func (p *Provider) Landing(memory types.PlayerMemory) []string {
	if memory.PlayCount == 0 {
		return pickMonologue(p, p.pack.Landing)
	}

	returning := p.pack.Returning
	lines := []string{pickLine(p, returning.Recognition)}

	switch memory.LastEnding {
	case types.EndingBroken:
		lines = append(lines, pickMonologue(p, returning.Broken)...)
	case types.EndingEscaped:
		lines = append(lines, pickMonologue(p, returning.Escaped)...)
	}

	if memory.AbandonmentCount > 0 {
		for _, line := range pickMonologue(p, returning.Abandoned) {
			lines = append(lines, fill(line, "{count}", strconv.Itoa(memory.AbandonmentCount)))
		}
	}

	if city := memory.City(); city != "" && len(returning.City) > 0 {
		lines = append(lines, fill(pickLine(p, returning.City), "{city}", city))
	}

	switch {
	case memory.HasGranted(types.PermissionCamera) && len(returning.Camera) > 0:
		lines = append(lines, pickLine(p, returning.Camera))
	case memory.HasGranted(types.PermissionMicrophone) && len(returning.Microphone) > 0:
		lines = append(lines, pickLine(p, returning.Microphone))
	}

	if memory.PlayCount >= 3 && len(returning.Repeat) > 0 {
		lines = append(lines, pickLine(p, returning.Repeat))
	}

	return append(lines, pickLine(p, returning.Challenge))
}

// Round returns the monologue for a revealed round, sometimes followed by a
// remembered detail and a remark about leaving the tab
func (p *Provider) Round(round interfaces.RoundContext) []string {
	lines := pickMonologue(p, p.pack.Rounds[round.Tier][round.Result])

	if line, ok := p.memoryLine(round.Memory, round.Tier); ok {
		lines = append(lines, line)
	}
	if line, ok := p.tabReturnLine(round.Tier, round.TabLeaveCount); ok {
		lines = append(lines, line)
	}
	return lines
}

func (p *Provider) memoryLine(memory types.PlayerMemory, tier types.Tier) (string, bool) {
	if tier == types.TierCalm || tier == types.TierUneasy {
		return "", false
	}
	if !p.percent(memoryLineChance) {
		return "", false
	}

	pool := p.pack.MemoryLines
	candidates := make([]string, 0, 3)
	if city := memory.City(); city != "" && len(pool.City) > 0 {
		candidates = append(candidates, fill(pickLine(p, pool.City), "{city}", city))
	}
	if memory.PlayCount >= 2 && len(pool.Repeat) > 0 {
		candidates = append(candidates, fill(pickLine(p, pool.Repeat), "{count}", strconv.Itoa(memory.PlayCount+1)))
	}
	if memory.AbandonmentCount > 0 && len(pool.Abandoned) > 0 {
		candidates = append(candidates, pickLine(p, pool.Abandoned))
	}
	if len(candidates) == 0 {
		return "", false
	}
	return pickLine(p, candidates), true
}

func (p *Provider) tabReturnLine(tier types.Tier, count int) (string, bool) {
	if count <= 0 {
		return "", false
	}
	if count > 1 && !p.percent(tabReturnChance) {
		return "", false
	}
	if count >= 3 && len(p.pack.TabReturnCounted) > 0 && p.percent(countedTabChance) {
		return fill(pickLine(p, p.pack.TabReturnCounted), "{count}", strconv.Itoa(count)), true
	}
	line := pickLine(p, p.pack.TabReturn[tier])
	return line, line != ""
}

// Ending returns the final monologue
func (p *Provider) Ending(ending types.EndingType) []string {
	return pickMonologue(p, p.pack.Endings[ending])
}

// PermissionRequest returns the request copy for mode
func (p *Provider) PermissionRequest(permission types.PermissionType, mode types.RequestMode, knownCity string) []string {
	lines := p.pack.Permissions[permission]
	switch mode {
	case types.ModeAutoGrant:
		if knownCity == "" {
			knownCity = fallbackCity
		}
		out := pickMonologue(p, lines.ReturningGrant)
		for i, line := range out {
			out[i] = fill(line, "{city}", knownCity)
		}
		return out
	case types.ModeAskWithTaunt:
		return pickMonologue(p, lines.ReturningDenied)
	default:
		return pickMonologue(p, lines.Request)
	}
}

// PermissionReaction returns the opponent's response to the outcome
func (p *Provider) PermissionReaction(permission types.PermissionType, granted bool, data string) []string {
	lines := p.pack.Permissions[permission]
	pool := lines.Denied
	if granted {
		pool = lines.Granted
	}
	if data == "" {
		data = fallbackCity
	}
	out := pickMonologue(p, pool)
	for i, line := range out {
		out[i] = fill(line, "{data}", data)
	}
	return out
}

// MuteReaction is a single line reacting to the music setting
func (p *Provider) MuteReaction(tier types.Tier, muted bool) []string {
	pool := p.pack.Mute.Unmuted[tier]
	if muted {
		pool = p.pack.Mute.Muted[tier]
	}
	if line := pickLine(p, pool); line != "" {
		return []string{line}
	}
	return []string{}
}

func (p *Provider) RoundMessages(tier types.Tier, result types.RoundResult) []narrator.Message {
	return pickMessages(p, p.pack.Console.Rounds[tier][result])
}

func (p *Provider) StreakMessages(side types.RoundResult) []narrator.Message {
	return pickMessages(p, p.pack.Console.Streak[side])
}

func (p *Provider) TierCrossedMessages(tier types.Tier) []narrator.Message {
	return pickMessages(p, p.pack.Console.Crossed[tier])
}

func (p *Provider) DevToolsMessages() []narrator.Message {
	return pickMessages(p, p.pack.Console.DevTools)
}

func (p *Provider) TabLeaveMessages(tier types.Tier) []narrator.Message {
	return pickMessages(p, p.pack.Console.TabLeave[tier])
}

func (p *Provider) MuteMessages(muted bool) []narrator.Message {
	if muted {
		return pickMessages(p, p.pack.Console.Mute.Muted)
	}
	return pickMessages(p, p.pack.Console.Mute.Unmuted)
}

func (p *Provider) EndingMessages(ending types.EndingType) []narrator.Message {
	return append([]narrator.Message(nil), p.pack.Console.Endings[ending]...)
}

func (p *Provider) FloodMessage() narrator.Message {
	return narrator.Message{Level: narrator.LevelError, Text: pickLine(p, p.pack.Console.Flood)}
}

// AmbientMessage returns a fake system line for tiers that have one
func (p *Provider) AmbientMessage(tier types.Tier) (narrator.Message, bool) {
	pool := p.pack.Console.Ambient[tier]
	if len(pool) == 0 {
		return narrator.Message{}, false
	}
	level := narrator.LevelError
	if tier == types.TierIrritated {
		level = narrator.LevelWarn
	}
	return narrator.Message{Level: level, Text: pickLine(p, pool)}, true
}
