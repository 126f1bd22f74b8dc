package game

import "github.com/user/roshambo/internal/types"

// beats maps each hand to the hand it defeats
var beats = map[types.Choice]types.Choice{
	types.ChoiceRock:     types.ChoiceScissors,
	types.ChoicePaper:    types.ChoiceRock,
	types.ChoiceScissors: types.ChoicePaper,
}

// Resolve decides a round from the player's point of view
func Resolve(player, opponent types.Choice) types.RoundResult {
	if player == opponent {
		return types.ResultTie
	}
	if beats[player] == opponent {
		return types.ResultPlayerWin
	}
	return types.ResultRobotWin
}
