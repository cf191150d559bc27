package activity

import (
	"math"

	"github.com/rongwang/guild-ledger/internal/models"
)

// Threshold is the xp needed to leave level: floor(100 * 1.5^(level-1))
func Threshold(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(math.Floor(100 * math.Pow(1.5, float64(level-1))))
}

// ApplyLevels spends xp on as many level-ups as it covers. The returned
// state always has 0 <= XP < XPForNext.
func ApplyLevels(s models.LevelState) (models.LevelState, bool) {
	if s.XP < 0 {
		s.XP = 0
	}
	if s.Level < 1 {
		s.Level = 1
	}
	if s.XPForNext <= 0 {
		s.XPForNext = Threshold(s.Level)
	}

	leveled := false
	for s.XP >= s.XPForNext {
		s.XP -= s.XPForNext
		s.Level++
		s.XPForNext = Threshold(s.Level)
		leveled = true
	}
	return s, leveled
}
