// Package dialogue serves the opponent's lines from a YAML content pack.
package dialogue

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/user/roshambo/internal/narrator"
	"github.com/user/roshambo/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var defaultContent []byte

// Monologue is an ordered run of lines
type Monologue []string

// Pack is a complete set of content pools
type Pack struct {
	Landing          []Monologue                                             `yaml:"landing"`
	Returning        Returning                                               `yaml:"returning"`
	Rounds           map[types.Tier]map[types.RoundResult][]Monologue        `yaml:"rounds"`
	MemoryLines      MemoryLines                                             `yaml:"memory_lines"`
	TabReturn        map[types.Tier][]string                                 `yaml:"tab_return"`
	TabReturnCounted []string                                                `yaml:"tab_return_counted"`
	Endings          map[types.EndingType][]Monologue                        `yaml:"endings"`
	Permissions      map[types.PermissionType]PermissionLines                `yaml:"permissions"`
	Mute             MuteLines                                               `yaml:"mute"`
	Console          ConsoleLines                                            `yaml:"console"`
}

// Returning is the landing content for players with a history
type Returning struct {
	Recognition []string    `yaml:"recognition"`
	Broken      []Monologue `yaml:"broken"`
	Escaped     []Monologue `yaml:"escaped"`
	Abandoned   []Monologue `yaml:"abandoned"`
	City        []string    `yaml:"city"`
	Camera      []string    `yaml:"camera"`
	Microphone  []string    `yaml:"microphone"`
	Repeat      []string    `yaml:"repeat"`
	Challenge   []string    `yaml:"challenge"`
}

// MemoryLines are single lines mixed into round dialogue
type MemoryLines struct {
	City      []string `yaml:"city"`
	Repeat    []string `yaml:"repeat"`
	Abandoned []string `yaml:"abandoned"`
}

// PermissionLines covers one permission type
type PermissionLines struct {
	Request         []Monologue `yaml:"request"`
	Granted         []Monologue `yaml:"granted"`
	Denied          []Monologue `yaml:"denied"`
	ReturningGrant  []Monologue `yaml:"returning_grant"`
	ReturningDenied []Monologue `yaml:"returning_denied"`
}

// MuteLines react to the music being switched off and on
type MuteLines struct {
	Muted   map[types.Tier][]string `yaml:"muted"`
	Unmuted map[types.Tier][]string `yaml:"unmuted"`
}

// ConsoleLines are the console narrator's pools
type ConsoleLines struct {
	Rounds   map[types.Tier]map[types.RoundResult][][]narrator.Message `yaml:"rounds"`
	Crossed  map[types.Tier][][]narrator.Message                       `yaml:"crossed"`
	DevTools [][]narrator.Message                                      `yaml:"devtools"`
	Streak   map[types.RoundResult][][]narrator.Message                `yaml:"streak"`
	TabLeave map[types.Tier][][]narrator.Message                       `yaml:"tab_leave"`
	Endings  map[types.EndingType][]narrator.Message                   `yaml:"endings"`
	Mute     struct {
		Muted   [][]narrator.Message `yaml:"muted"`
		Unmuted [][]narrator.Message `yaml:"unmuted"`
	} `yaml:"mute"`
	Flood   []string                `yaml:"flood"`
	Ambient map[types.Tier][]string `yaml:"ambient"`
}

// Load parses and validates a content pack
func Load(r io.Reader) (*Pack, error) {
	var pack Pack
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&pack); err != nil {
		return nil, fmt.Errorf("failed to parse content pack: %w", err)
	}
	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return &pack, nil
}

// LoadFile loads a content pack from disk
func LoadFile(path string) (*Pack, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content pack: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// DefaultPack returns the embedded content pack
func DefaultPack() (*Pack, error) {
	return Load(bytes.NewReader(defaultContent))
}

// Validate checks that every pool the game can ask for has content
func (p *Pack) Validate() error {
	if len(p.Landing) == 0 {
		return fmt.Errorf("content pack: landing is empty")
	}
	if len(p.Returning.Recognition) == 0 || len(p.Returning.Challenge) == 0 {
		return fmt.Errorf("content pack: returning recognition and challenge are required")
	}
	for _, tier := range types.Tiers {
		for _, result := range []types.RoundResult{types.ResultPlayerWin, types.ResultRobotWin, types.ResultTie} {
			if len(p.Rounds[tier][result]) == 0 {
				return fmt.Errorf("content pack: no round lines for %s/%s", tier, result)
			}
		}
		if len(p.TabReturn[tier]) == 0 {
			return fmt.Errorf("content pack: no tab return lines for %s", tier)
		}
		if len(p.Mute.Muted[tier]) == 0 || len(p.Mute.Unmuted[tier]) == 0 {
			return fmt.Errorf("content pack: no mute lines for %s", tier)
		}
	}
	for _, ending := range []types.EndingType{types.EndingBroken, types.EndingEscaped} {
		if len(p.Endings[ending]) == 0 {
			return fmt.Errorf("content pack: no ending lines for %s", ending)
		}
	}
	for _, permission := range types.PermissionTypes {
		lines, ok := p.Permissions[permission]
		if !ok {
			return fmt.Errorf("content pack: no lines for permission %s", permission)
		}
		if len(lines.Request) == 0 || len(lines.Granted) == 0 || len(lines.Denied) == 0 ||
			len(lines.ReturningGrant) == 0 || len(lines.ReturningDenied) == 0 {
			return fmt.Errorf("content pack: incomplete lines for permission %s", permission)
		}
	}
	if len(p.Console.Flood) == 0 {
		return fmt.Errorf("content pack: console flood is empty")
	}
	return nil
}
