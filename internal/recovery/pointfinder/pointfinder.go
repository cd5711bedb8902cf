// Package pointfinder locates recovery points in an operation log: the
// clean cut-point recovery actually replays from, and the menu of
// human-meaningful restore points (VFileEventOperation.EventStart markers)
// a caller can offer a user, thinned to an exponentially-spaced subset.
package pointfinder

import (
	"iter"
	"time"

	"vfsrecovery/internal/oplog"
)

// RecoveryPoint is one candidate restore point: the timestamp an
// EventStart operation recorded, and the log position it starts at.
type RecoveryPoint struct {
	Timestamp time.Time
	Position  uint64
}

// FindClosestPrecedingPoint scans backward from point, looking for a
// position preceded by at least minCleanWindow consecutive Complete,
// non-exceptional records. Any Incomplete record, or a Complete one with an
// exceptional result, disqualifies the window it falls in: the candidate
// resets to just before that record and the count restarts. ok is false if
// the log's start is reached before such a window is found.
func FindClosestPrecedingPoint(s *oplog.Storage, point uint64, minCleanWindow int) (pos uint64, ok bool) {
	candidate := point
	it := oplog.NewIterator(s, candidate)
	clean := 0
	for clean < minCleanWindow {
		if !it.HasPrevious() {
			return 0, false
		}
		res := it.Previous()
		switch res.Outcome {
		case oplog.Complete:
			if res.Op.Exceptional {
				candidate = it.Position()
				it = oplog.NewIterator(s, candidate)
				clean = 0
				continue
			}
			clean++
		case oplog.Incomplete:
			candidate = it.Position()
			it = oplog.NewIterator(s, candidate)
			clean = 0
		case oplog.Invalid:
			return 0, false
		}
	}
	return candidate, true
}

// GenerateRecoveryPointsPriorTo lazily walks backward from point, yielding
// a RecoveryPoint for every EventStart operation encountered, most recent
// first. The filtered read means non-EventStart records are never decoded.
func GenerateRecoveryPointsPriorTo(s *oplog.Storage, point uint64) iter.Seq[RecoveryPoint] {
	return func(yield func(RecoveryPoint) bool) {
		it := oplog.NewIterator(s, point)
		mask := oplog.NewTagMask(oplog.TagEventStart)
		for it.HasPrevious() {
			res := it.PreviousFiltered(mask)
			switch res.Outcome {
			case oplog.Complete:
				rp := RecoveryPoint{Timestamp: res.Op.EventTimestamp, Position: it.Position()}
				if !yield(rp) {
					return
				}
			case oplog.Incomplete:
				continue
			case oplog.Invalid:
				return
			}
		}
	}
}

// maxSkip caps thinOut's geometric growth so a multi-decade-old log doesn't
// overflow time.Duration.
const maxSkip = 5 * 365 * 24 * time.Hour

// ThinOut rate-limits seq: it always yields the first point, then only the
// next point whose timestamp is at least skip earlier than the last
// yielded one. skip starts at initialSkip and grows by multiplier after
// every emission except the first, capped at ~5 years, producing an exponentially-spaced
// menu of restore points instead of one per EventStart.
func ThinOut(seq iter.Seq[RecoveryPoint], initialSkip time.Duration, multiplier float64) iter.Seq[RecoveryPoint] {
	return func(yield func(RecoveryPoint) bool) {
		skip := initialSkip
		var last time.Time
		first := true
		for rp := range seq {
			if first {
				if !yield(rp) {
					return
				}
				last = rp.Timestamp
				first = false
				continue
			}
			if last.Sub(rp.Timestamp) < skip {
				continue
			}
			if !yield(rp) {
				return
			}
			last = rp.Timestamp
			skip = time.Duration(float64(skip) * multiplier)
			if skip > maxSkip {
				skip = maxSkip
			}
		}
	}
}
