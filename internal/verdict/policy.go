package verdict

import (
	"fmt"
)

// Tally is the frame-level evidence accumulated over one video.
type Tally struct {
	Sampled  int
	Positive int
}

// Ratio returns Positive/Sampled, or 0 when nothing was sampled.
func (t Tally) Ratio() float64 {
	if t.Sampled == 0 {
		return 0
	}
	return float64(t.Positive) / float64(t.Sampled)
}

// Policy decides the video-level verdict from the tally. Every policy
// requires at least one positive frame.
type Policy interface {
	Decide(t Tally) bool
	String() string
}

// AnyFrame accepts a video as soon as one sampled frame is positive.
type AnyFrame struct{}

func (AnyFrame) Decide(t Tally) bool { return t.Positive >= 1 }
func (AnyFrame) String() string      { return "any" }

// MinCount requires at least N positive frames.
type MinCount struct{ N int }

func (p MinCount) Decide(t Tally) bool {
	n := p.N
	if n < 1 {
		n = 1
	}
	return t.Positive >= n
}

func (p MinCount) String() string { return fmt.Sprintf("min_count(%d)", p.N) }

// MinRatio requires the positive share of sampled frames to reach R.
type MinRatio struct{ R float64 }

func (p MinRatio) Decide(t Tally) bool {
	return t.Positive >= 1 && t.Ratio() >= p.R
}

func (p MinRatio) String() string { return fmt.Sprintf("min_ratio(%.3f)", p.R) }

// ParsePolicy builds a policy from its configuration name.
func ParsePolicy(name string, minFrames int, minRatio float64) (Policy, error) {
	switch name {
	case "", "any":
		return AnyFrame{}, nil
	case "min_count":
		if minFrames < 1 {
			return nil, fmt.Errorf("min_count policy needs min_positive_frames >= 1, got %d", minFrames)
		}
		return MinCount{N: minFrames}, nil
	case "min_ratio":
		if minRatio < 0 || minRatio > 1 {
			return nil, fmt.Errorf("min_ratio policy needs min_positive_ratio in [0,1], got %v", minRatio)
		}
		return MinRatio{R: minRatio}, nil
	default:
		return nil, fmt.Errorf("unknown verdict policy %q", name)
	}
}

// EvidenceRule picks which positive frame is kept as evidence.
type EvidenceRule int

const (
	EvidenceFirst EvidenceRule = iota
	EvidenceLast
)

func (r EvidenceRule) String() string {
	if r == EvidenceLast {
		return "last"
	}
	return "first"
}

// ParseEvidenceRule parses "first" or "last".
func ParseEvidenceRule(s string) (EvidenceRule, error) {
	switch s {
	case "", "first":
		return EvidenceFirst, nil
	case "last":
		return EvidenceLast, nil
	default:
		return EvidenceFirst, fmt.Errorf("unknown evidence rule %q", s)
	}
}
