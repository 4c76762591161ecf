package rating

import (
	"math"

	"github.com/park285/cheese-arena/internal/domain"
)

const (
	// GameKFactor is applied to rated games.
	GameKFactor = 20
	// PuzzleKFactor is applied to puzzle attempts.
	PuzzleKFactor = 40
)

// ExpectedScore is the Elo expectation of a against b.
func ExpectedScore(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// GameDeltas returns the rating change for white and black. Deltas round half to even.
func GameDeltas(white, black int, result domain.Result, k int) (int, int) {
	var actualWhite, actualBlack float64
	switch result {
	case domain.ResultWhiteWin:
		actualWhite, actualBlack = 1, 0
	case domain.ResultBlackWin:
		actualWhite, actualBlack = 0, 1
	default:
		actualWhite, actualBlack = 0.5, 0.5
	}
	dw := math.RoundToEven(float64(k) * (actualWhite - ExpectedScore(white, black)))
	db := math.RoundToEven(float64(k) * (actualBlack - ExpectedScore(black, white)))
	return int(dw), int(db)
}

// PuzzleDelta returns the change to a user's puzzle rating after an attempt.
func PuzzleDelta(user, puzzle int, success bool, k int) int {
	actual := 0.0
	if success {
		actual = 1
	}
	return int(math.RoundToEven(float64(k) * (actual - ExpectedScore(user, puzzle))))
}
