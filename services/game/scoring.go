package game

import (
	"math"
	"time"
)

const (
	// BasePoints is awarded for every first-time checkpoint clear.
	BasePoints = 10
	// MaxTimeBonus is the bonus for a clear at zero elapsed minutes.
	MaxTimeBonus = 100
)

// Award is the breakdown of points for one checkpoint clear.
type Award struct {
	Base           int
	TimeBonus      int
	ElapsedSeconds int64
}

// Total is Base plus TimeBonus.
func (a Award) Total() int { return a.Base + a.TimeBonus }

// TimeBonus returns floor(MaxTimeBonus / (1 + elapsed minutes)), where elapsed
// is counted in whole seconds. Negative elapsed time counts as zero.
func TimeBonus(elapsedSeconds int64) int {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	minutes := float64(elapsedSeconds) / 60.0
	return int(math.Floor(MaxTimeBonus / (1.0 + minutes)))
}

// ScoreReference is the instant a clear's time bonus is measured from: the
// first start, else the approval, else nil.
func ScoreReference(s *Session) *time.Time {
	if s.StartedAt != nil {
		return s.StartedAt
	}
	return s.ApprovedAt
}

// Score computes the award for clearing a checkpoint at now.
func Score(s *Session, now time.Time) Award {
	var elapsed int64
	if ref := ScoreReference(s); ref != nil {
		if d := now.Sub(*ref); d > 0 {
			elapsed = int64(d / time.Second)
		}
	}
	return Award{
		Base:           BasePoints,
		TimeBonus:      TimeBonus(elapsed),
		ElapsedSeconds: elapsed,
	}
}
