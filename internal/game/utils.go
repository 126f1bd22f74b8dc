package game

import (
	crand "crypto/rand"
	"math/big"

	"github.com/user/roshambo/internal/interfaces"
	"github.com/user/roshambo/internal/types"
)

// CryptoSource is a Random backed by crypto/rand
type CryptoSource struct{}

// Intn returns a uniform integer in [0, n) without modulo bias
func (CryptoSource) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is unusable
		panic("read random value: " + err.Error())
	}
	return int(v.Int64())
}

var _ interfaces.Random = CryptoSource{}

// DiceRoller handles the game's dice and random picks over a Random source
type DiceRoller struct {
	rng interfaces.Random
}

// NewDiceRoller creates a dice roller; a nil source falls back to crypto/rand
func NewDiceRoller(rng interfaces.Random) *DiceRoller {
	if rng == nil {
		rng = CryptoSource{}
	}
	return &DiceRoller{rng: rng}
}

// Roll rolls a dice with the specified number of sides
func (dr *DiceRoller) Roll(sides int) int {
	return dr.rng.Intn(sides) + 1
}

// Intn exposes the underlying source so the roller can be passed as a Random
func (dr *DiceRoller) Intn(n int) int {
	return dr.rng.Intn(n)
}

// Percent reports true with the given chance in whole percent
func (dr *DiceRoller) Percent(chance int) bool {
	return dr.Roll(100) <= chance
}

// Choice picks the opponent's hand uniformly
func (dr *DiceRoller) Choice() types.Choice {
	return types.Choices[dr.rng.Intn(len(types.Choices))]
}

// Between returns a uniform integer in [lo, hi]
func (dr *DiceRoller) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + dr.rng.Intn(hi-lo+1)
}
