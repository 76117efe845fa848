package app

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// BasePoints is awarded for any correct answer inside the time limit.
	BasePoints = 1000
	// MaxBonus is the time-decay bonus for an instant correct answer.
	MaxBonus = 500
)

var maxBonus = decimal.NewFromInt(MaxBonus)

// Score maps a judged answer to points: 0 when wrong, otherwise BasePoints plus a bonus that
// shrinks linearly from MaxBonus at zero elapsed time to nothing at the time limit.
func Score(correct bool, elapsed time.Duration, timeLimitSeconds int) int {
	if !correct {
		return 0
	}
	if timeLimitSeconds <= 0 {
		return BasePoints
	}
	limitMs := int64(timeLimitSeconds) * 1000
	remainingMs := limitMs - elapsed.Milliseconds()
	if remainingMs <= 0 {
		return BasePoints
	}
	if remainingMs > limitMs {
		remainingMs = limitMs
	}
	bonus := decimal.NewFromInt(remainingMs).
		Div(decimal.NewFromInt(limitMs)).
		Mul(maxBonus).
		Round(0)
	return BasePoints + int(bonus.IntPart())
}
