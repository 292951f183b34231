// Package engine drives one UCI-style analysis engine subprocess per
// actor: spawn, initialize, and exchange position/go/info/bestmove
// lines for whole chunks at a time.
package engine

import (
	"strconv"
	"strings"

	"github.com/lichess-org/fishnet-go/internal/model"
)

// infoUpdate is one parsed "info ..." line. Fields are nil/zero when
// absent from that particular line; callers merge successive updates.
type infoUpdate struct {
	hasMultiPV bool
	multiPV    int
	hasDepth   bool
	depth      int
	score      *model.Score
	pv         []string
	nodes      *uint64
	nps        *uint64
	timeMs     *int
}

// parseInfo parses a UCI "info ..." line. ok is false for lines that
// carry no recognized fields (e.g. pure string/currmove chatter).
func parseInfo(line string) (infoUpdate, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "info" {
		return infoUpdate{}, false
	}

	var u infoUpdate
	ok := false
	i := 1
	for i < len(fields) {
		tok := fields[i]
		switch tok {
		case "multipv":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					u.hasMultiPV = true
					u.multiPV = v
					ok = true
				}
				i += 2
				continue
			}
		case "depth":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					u.hasDepth = true
					u.depth = v
					ok = true
				}
				i += 2
				continue
			}
		case "nodes":
			if i+1 < len(fields) {
				if v, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
					u.nodes = &v
					ok = true
				}
				i += 2
				continue
			}
		case "nps":
			if i+1 < len(fields) {
				if v, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
					u.nps = &v
					ok = true
				}
				i += 2
				continue
			}
		case "time":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					u.timeMs = &v
					ok = true
				}
				i += 2
				continue
			}
		case "score":
			if i+2 < len(fields) {
				kind := fields[i+1]
				if v, err := strconv.Atoi(fields[i+2]); err == nil {
					s := model.Cp(v)
					if kind == "mate" {
						s = model.MateIn(v)
					}
					u.score = &s
					ok = true
				}
				i += 3
				continue
			}
		case "pv":
			if i+1 < len(fields) {
				u.pv = append([]string(nil), fields[i+1:]...)
				ok = true
			}
			i = len(fields)
			continue
		}
		i++
	}
	return u, ok
}

// parseBestmove extracts the chosen move from a "bestmove M [ponder P]"
// line. Returns ok=false for "bestmove (none)".
func parseBestmove(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "bestmove" {
		return "", false
	}
	if fields[1] == "(none)" {
		return "", false
	}
	return fields[1], true
}

func isReadyOk(line string) bool {
	return strings.TrimSpace(line) == "readyok"
}

func isBestmove(line string) bool {
	return strings.HasPrefix(line, "bestmove")
}
