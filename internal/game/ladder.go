package game

import "github.com/user/roshambo/internal/types"

// PermissionThreshold is one rung of the permission ladder
type PermissionThreshold struct {
	Type      types.PermissionType
	Threshold int
}

// PermissionLadder is checked in order; lower thresholds come first
var PermissionLadder = []PermissionThreshold{
	{types.PermissionNotification, 20},
	{types.PermissionGeolocation, 40},
	{types.PermissionCamera, 60},
	{types.PermissionMicrophone, 70},
	{types.PermissionFullscreen, 80},
}

// NextPermission returns the lowest rung reached by score that history has not handled yet
func NextPermission(score int, history []types.PermissionHistoryEntry) (types.PermissionType, bool) {
	handled := make(map[types.PermissionType]bool, len(history))
	for _, h := range history {
		handled[h.Type] = true
	}
	for _, rung := range PermissionLadder {
		if score >= rung.Threshold && !handled[rung.Type] {
			return rung.Type, true
		}
	}
	return "", false
}

// RequestModeFor decides how a due permission is presented, based on earlier sessions
func RequestModeFor(permission types.PermissionType, memory types.PlayerMemory) types.RequestMode {
	switch {
	case memory.HasGranted(permission):
		return types.ModeAutoGrant
	case memory.HasDenied(permission):
		return types.ModeAskWithTaunt
	default:
		return types.ModeAsk
	}
}
