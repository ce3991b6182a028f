package game

import (
	"testing"
	"time"
)

func TestTimeBonus(t *testing.T) {
	tests := []struct {
		name    string
		elapsed int64
		want    int
	}{
		{name: "immediate", elapsed: 0, want: 100},
		{name: "one minute", elapsed: 60, want: 50},
		{name: "two minutes", elapsed: 120, want: 33},
		{name: "five minutes", elapsed: 300, want: 16},
		{name: "nine minutes", elapsed: 540, want: 10},
		{name: "ten minutes", elapsed: 600, want: 9},
		{name: "negative clamps", elapsed: -30, want: 100},
		{name: "long tail", elapsed: 6000 * 60, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TimeBonus(tt.elapsed); got != tt.want {
				t.Fatalf("TimeBonus(%d) = %d, want %d", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestTimeBonusNonIncreasing(t *testing.T) {
	prev := TimeBonus(0)
	for sec := int64(1); sec <= 3*3600; sec++ {
		got := TimeBonus(sec)
		if got > prev {
			t.Fatalf("TimeBonus(%d) = %d > TimeBonus(%d) = %d", sec, got, sec-1, prev)
		}
		prev = got
	}
}

func TestScoreReference(t *testing.T) {
	s := approvedSession(30)

	// Approved but never started: measured from approval.
	award := Score(s, t0.Add(9*time.Minute))
	if award.Total() != 20 || award.ElapsedSeconds != 540 {
		t.Fatalf("Score() from approval = %+v, want total 20", award)
	}

	mustStart(t, s, t0.Add(9*time.Minute))
	award = Score(s, t0.Add(9*time.Minute))
	if award.Base != BasePoints || award.TimeBonus != 100 || award.Total() != 110 {
		t.Fatalf("Score() at start = %+v, want 10+100", award)
	}

	s.StartedAt, s.ApprovedAt = nil, nil
	if award := Score(s, t0); award.TimeBonus != 100 {
		t.Fatalf("Score() without reference = %+v, want full bonus", award)
	}
}

func TestScoreUsesFirstStartNotResume(t *testing.T) {
	s := approvedSession(30)
	mustStart(t, s, t0)
	s.Stop(t0.Add(time.Minute))
	mustStart(t, s, t0.Add(8*time.Minute))

	award := Score(s, t0.Add(9*time.Minute))
	if award.TimeBonus != 10 {
		t.Fatalf("TimeBonus = %d, want 10 (measured from first start)", award.TimeBonus)
	}
}
