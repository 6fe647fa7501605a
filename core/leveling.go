package core

import (
	"math"
	"time"
)

// LevelBase is the XP cost of the first level; level L costs LevelBase*L more than L-1.
const LevelBase = 100

var councilTitles = []string{
	"Aspirant",
	"Junior Councillor",
	"Councillor",
	"Senior Councillor",
	"Council Guardian",
	"Arch-Councillor",
}

var levelBadges = []string{"🟢", "🔵", "🟣", "🟡", "🛡️", "🏅"}

type LevelInfo struct {
	Level          int
	XPIntoLevel    int
	XPForNextLevel int
}

// Threshold returns the cumulative XP needed to reach level.
func Threshold(level int) int {
	if level <= 0 {
		return 0
	}
	// sum of LevelBase*i for i in 1..level
	return LevelBase * level * (level + 1) / 2
}

func LevelFromXP(xp int) LevelInfo {
	if xp < 0 {
		xp = 0
	}
	level := 0
	for xp >= Threshold(level+1) {
		level++
	}
	current := Threshold(level)
	return LevelInfo{
		Level:          level,
		XPIntoLevel:    xp - current,
		XPForNextLevel: Threshold(level+1) - current,
	}
}

func TitleForLevel(level int) string {
	return councilTitles[clampIndex(level, len(councilTitles))]
}

func BadgeForLevel(level int) string {
	return levelBadges[clampIndex(level, len(levelBadges))]
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// XPScaling tunes how proposal duration scales the vote reward.
type XPScaling struct {
	K       float64
	MinMult float64
	MaxMult float64
}

var DefaultXPScaling = XPScaling{K: 6, MinMult: 0.5, MaxMult: 3.5}

// XPForProposal rewards short-lived proposals more than long ones, bounded by the multipliers.
func XPForProposal(openedAt, deadline time.Time, baseXP int, s XPScaling) int {
	minutes := math.Abs(math.Trunc(deadline.Sub(openedAt).Minutes()))
	hours := math.Max(0.01, minutes/60)

	mult := s.K / hours
	if math.IsNaN(mult) || math.IsInf(mult, 0) || mult <= 0 {
		mult = 1
	}
	mult = math.Max(s.MinMult, math.Min(s.MaxMult, mult))

	xp := int(math.Round(float64(baseXP) * mult))
	if xp < 1 {
		return 1
	}
	return xp
}
