package output

import (
	"fmt"
	"strings"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// Verbosity controls how much of a result is emitted.
type Verbosity int

const (
	// Minimal emits the verdict only: model_scores is dropped.
	Minimal Verbosity = iota
	// Standard emits the full result.
	Standard
	// Full emits the full result. Reserved for per-feature detail.
	Full
)

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Standard:
		return "standard"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Verbosity(%d)", int(v))
	}
}

// ParseVerbosity maps a config string to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal, nil
	case "", "standard":
		return Standard, nil
	case "full":
		return Full, nil
	default:
		return Standard, fmt.Errorf("unknown verbosity %q (want minimal, standard or full)", s)
	}
}

// FormatResult returns a copy of the result with fields stripped according to verbosity.
// At Minimal: ModelScores is nil (omitted from JSON via omitempty).
// At Standard/Full: all fields preserved.
func FormatResult(r model.ScoredTransaction, verbosity Verbosity) model.ScoredTransaction {
	if verbosity == Minimal {
		r.ModelScores = nil
	} else if r.ModelScores != nil {
		ms := *r.ModelScores
		r.ModelScores = &ms
	}
	return r
}
