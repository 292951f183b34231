package model

import "time"

// levelEntry holds the three knobs the remote's discrete 1-8 move
// skill level drives: the UCI Skill Level (which can go negative on
// engines built to emulate very weak play below native Stockfish's
// floor), the movetime budget, and a depth ceiling.
type levelEntry struct {
	skill int
	time  time.Duration
	depth int
}

var levelTable = [8]levelEntry{
	{skill: -9, time: 50 * time.Millisecond, depth: 5},
	{skill: -5, time: 100 * time.Millisecond, depth: 5},
	{skill: -1, time: 150 * time.Millisecond, depth: 5},
	{skill: 3, time: 200 * time.Millisecond, depth: 5},
	{skill: 7, time: 300 * time.Millisecond, depth: 5},
	{skill: 11, time: 400 * time.Millisecond, depth: 8},
	{skill: 16, time: 500 * time.Millisecond, depth: 13},
	{skill: 20, time: 1000 * time.Millisecond, depth: 22},
}

func levelIndex(level int) int {
	if level < 1 {
		level = 1
	}
	if level > len(levelTable) {
		level = len(levelTable)
	}
	return level - 1
}

// LevelSkill returns the UCI "Skill Level" value for a move work's
// discrete 1-8 level.
func LevelSkill(level int) int {
	return levelTable[levelIndex(level)].skill
}

// LevelTime returns the movetime budget for a move work's level.
func LevelTime(level int) time.Duration {
	return levelTable[levelIndex(level)].time
}

// LevelDepth returns the depth ceiling for a move work's level.
func LevelDepth(level int) int {
	return levelTable[levelIndex(level)].depth
}

// MoveTimeoutBuffer pads a move's per-ply timeout beyond its engine
// movetime so normal UCI turnaround (position/go/bestmove round trip)
// doesn't itself trip the deadline.
const MoveTimeoutBuffer = 2 * time.Second

// AnalysisPerPlyTimeout bounds how long an analysis chunk may spend
// on a single position. Analysis is budgeted in nodes, not time, so
// this has to be generous enough to cover slow hardware rather than
// derived from a search depth/time target.
const AnalysisPerPlyTimeout = 60 * time.Second
