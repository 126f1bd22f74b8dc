package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Choice is a Rock/Paper/Scissors hand
type Choice string

const (
	ChoiceNone     Choice = ""
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

// Choices lists every valid hand in a fixed order
var Choices = []Choice{ChoiceRock, ChoicePaper, ChoiceScissors}

// Valid reports whether c is one of the three hands
func (c Choice) Valid() bool {
	return c == ChoiceRock || c == ChoicePaper || c == ChoiceScissors
}

func (c Choice) MarshalJSON() ([]byte, error) { return marshalNullable(string(c)) }

func (c *Choice) UnmarshalJSON(data []byte) error {
	s, err := unmarshalNullable(data)
	*c = Choice(s)
	return err
}

// RoundResult is the outcome of a single round
type RoundResult string

const (
	ResultNone      RoundResult = ""
	ResultPlayerWin RoundResult = "player"
	ResultRobotWin  RoundResult = "robot"
	ResultTie       RoundResult = "tie"
)

func (r RoundResult) MarshalJSON() ([]byte, error) { return marshalNullable(string(r)) }

func (r *RoundResult) UnmarshalJSON(data []byte) error {
	s, err := unmarshalNullable(data)
	*r = RoundResult(s)
	return err
}

// Tier is the discrete band derived from effective tension
type Tier string

const (
	TierCalm      Tier = "CALM"
	TierUneasy    Tier = "UNEASY"
	TierIrritated Tier = "IRRITATED"
	TierUnstable  Tier = "UNSTABLE"
	TierMeltdown  Tier = "MELTDOWN"
)

// Tiers lists every tier from calmest to most unstable
var Tiers = []Tier{TierCalm, TierUneasy, TierIrritated, TierUnstable, TierMeltdown}

// Phase governs which round operations are legal
type Phase string

const (
	PhaseLanding Phase = "landing"
	PhasePlaying Phase = "playing"
	PhaseEnding  Phase = "ending"
)

// RoundPhase is the sub-state of a round while playing
type RoundPhase string

const (
	RoundPhaseIdle      RoundPhase = "idle"
	RoundPhaseAnimating RoundPhase = "animating"
	RoundPhaseRevealing RoundPhase = "revealing"
	RoundPhaseResult    RoundPhase = "result"
)

// EndingType is the terminal outcome of a session
type EndingType string

const (
	EndingNone    EndingType = ""
	EndingBroken  EndingType = "BROKEN"
	EndingEscaped EndingType = "ESCAPED"
)

func (e EndingType) MarshalJSON() ([]byte, error) { return marshalNullable(string(e)) }

func (e *EndingType) UnmarshalJSON(data []byte) error {
	s, err := unmarshalNullable(data)
	*e = EndingType(s)
	return err
}

// PermissionType is a browser capability the opponent asks for
type PermissionType string

const (
	PermissionNotification PermissionType = "notification"
	PermissionGeolocation  PermissionType = "geolocation"
	PermissionCamera       PermissionType = "camera"
	PermissionMicrophone   PermissionType = "microphone"
	PermissionFullscreen   PermissionType = "fullscreen"
)

// PermissionTypes lists every permission in ladder order
var PermissionTypes = []PermissionType{
	PermissionNotification,
	PermissionGeolocation,
	PermissionCamera,
	PermissionMicrophone,
	PermissionFullscreen,
}

// Valid reports whether p is a known permission type
func (p PermissionType) Valid() bool {
	for _, known := range PermissionTypes {
		if p == known {
			return true
		}
	}
	return false
}

// PermissionStatus records how a permission request ended
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

// RequestMode says how a due permission is presented to the player
type RequestMode string

const (
	// ModeAsk is a first-time request
	ModeAsk RequestMode = "ask"
	// ModeAutoGrant skips the allow/deny prompt because a previous session granted it
	ModeAutoGrant RequestMode = "auto_grant"
	// ModeAskWithTaunt asks again after a previous session denied it
	ModeAskWithTaunt RequestMode = "ask_with_taunt"
)

// PermissionHistoryEntry is one resolved permission request
type PermissionHistoryEntry struct {
	Type   PermissionType   `json:"type"`
	Status PermissionStatus `json:"status"`
	Data   string           `json:"data,omitempty"`
}

// PendingPermission is the single outstanding permission request
type PendingPermission struct {
	Type               PermissionType `json:"permissionType"`
	Mode               RequestMode    `json:"mode"`
	IsWaitingOnBrowser bool           `json:"isWaitingOnBrowser"`
	AutoGranted        bool           `json:"autoGranted"`
}

// PermissionResult is what the browser reports back for a request
type PermissionResult struct {
	Granted bool   `json:"granted"`
	Data    string `json:"data,omitempty"`
}

// GameSession is the root aggregate owned by the state machine
type GameSession struct {
	ID         string     `json:"id"`
	Phase      Phase      `json:"phase"`
	RoundPhase RoundPhase `json:"roundPhase"`

	PlayerWins            int `json:"playerWins"`
	RobotWins             int `json:"robotWins"`
	RoundsPlayed          int `json:"roundsPlayed"`
	ConsecutivePlayerWins int `json:"consecutivePlayerWins"`
	ConsecutiveRobotWins  int `json:"consecutiveRobotWins"`

	TensionBase  int  `json:"tensionBase"`
	TensionSpike int  `json:"tensionSpike"`
	TensionTier  Tier `json:"tensionTier"`

	PendingPlayerChoice Choice      `json:"pendingPlayerChoice"`
	PendingRobotChoice  Choice      `json:"pendingRobotChoice"`
	LastPlayerChoice    Choice      `json:"lastPlayerChoice"`
	LastRobotChoice     Choice      `json:"lastRobotChoice"`
	LastRoundResult     RoundResult `json:"lastRoundResult"`
	EndingType          EndingType  `json:"endingType"`

	DialogueLines    []string `json:"dialogueLines"`
	DialogueIndex    int      `json:"dialogueIndex"`
	DialogueComplete bool     `json:"dialogueComplete"`

	PendingPermission *PendingPermission       `json:"pendingPermission"`
	PermissionHistory []PermissionHistoryEntry `json:"permissionHistory"`

	DevToolsOpened bool `json:"devToolsOpenedFlag"`
	TabLeaveCount  int  `json:"tabLeaveCount"`
	IsRebooting    bool `json:"isRebooting"`
	MusicMuted     bool `json:"musicMuted"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt"`
}

// EffectiveTension is base plus spike, capped at 100
func (s GameSession) EffectiveTension() int {
	if s.TensionBase+s.TensionSpike > 100 {
		return 100
	}
	return s.TensionBase + s.TensionSpike
}

// HasPermissionEntry reports whether the session already handled p
func (s GameSession) HasPermissionEntry(p PermissionType) bool {
	for _, h := range s.PermissionHistory {
		if h.Type == p {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate without affecting s
func (s GameSession) Clone() GameSession {
	c := s
	c.DialogueLines = append(make([]string, 0, len(s.DialogueLines)), s.DialogueLines...)
	c.PermissionHistory = append(make([]PermissionHistoryEntry, 0, len(s.PermissionHistory)), s.PermissionHistory...)
	if s.PendingPermission != nil {
		p := *s.PendingPermission
		c.PendingPermission = &p
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	return c
}

// PlayerMemory is the durable cross-session record.
// Field names match the persisted JSON shape exactly.
type PlayerMemory struct {
	PlayCount          int              `json:"playCount"`
	LastEnding         EndingType       `json:"lastEnding"`
	PermissionsGranted []PermissionType `json:"permissionsGranted"`
	PermissionsDenied  []PermissionType `json:"permissionsDenied"`
	KnownCity          *string          `json:"knownCity"`
	LastPlayedAt       *time.Time       `json:"lastPlayedAt"`
	AbandonmentCount   int              `json:"abandonmentCount"`
}

// DefaultPlayerMemory is the record of a first-time player
func DefaultPlayerMemory() PlayerMemory {
	return PlayerMemory{
		PermissionsGranted: []PermissionType{},
		PermissionsDenied:  []PermissionType{},
	}
}

// HasGranted reports whether any earlier session granted p
func (m PlayerMemory) HasGranted(p PermissionType) bool {
	return containsPermission(m.PermissionsGranted, p)
}

// HasDenied reports whether any earlier session denied p
func (m PlayerMemory) HasDenied(p PermissionType) bool {
	return containsPermission(m.PermissionsDenied, p)
}

// City returns the remembered city or an empty string
func (m PlayerMemory) City() string {
	if m.KnownCity == nil {
		return ""
	}
	return *m.KnownCity
}

// IsReturning reports whether the player has finished at least one game
func (m PlayerMemory) IsReturning() bool {
	return m.PlayCount > 0 || m.LastEnding != EndingNone
}

func containsPermission(list []PermissionType, p PermissionType) bool {
	for _, item := range list {
		if item == p {
			return true
		}
	}
	return false
}

var jsonNull = []byte("null")

func marshalNullable(s string) ([]byte, error) {
	if s == "" {
		return jsonNull, nil
	}
	return json.Marshal(s)
}

func unmarshalNullable(data []byte) (string, error) {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return s, nil
}
