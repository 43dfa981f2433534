package workflow

import (
	"fmt"
	"strings"

	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/session"
)

// Phase is one stage of video production. Phases run strictly in order.
type Phase int

const (
	PhaseScript Phase = iota
	PhaseScenes
	PhaseImageBatches
	PhaseComplete
)

var phaseNames = [...]string{"script", "scenes", "image_batches", "complete"}

func (p Phase) String() string {
	if p < PhaseScript || p > PhaseComplete {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase accepts the names produced by String.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if strings.EqualFold(s, name) {
			return Phase(i), nil
		}
	}
	return 0, apperr.New(apperr.ReasonInvalidFormat, fmt.Sprintf("Unknown phase %q.", s))
}

// PhaseOf derives the phase that must run next from progress.
func PhaseOf(p *session.Progress) Phase {
	switch {
	case p == nil || !p.ScriptCompleted:
		return PhaseScript
	case !p.ScenesCompleted:
		return PhaseScenes
	case p.NextSceneToGenerate <= p.TotalScenes:
		return PhaseImageBatches
	default:
		return PhaseComplete
	}
}

// Guard allows staying in a phase or moving to the one right after it.
func Guard(from, to Phase) error {
	if to == from || to == from+1 {
		return nil
	}
	return apperr.New(apperr.ReasonPhaseOrder,
		fmt.Sprintf("Cannot move from %s to %s.", from, to))
}
