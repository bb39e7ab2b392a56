// Package guard validates turn documents against an ordered set of
// independent rules, each owning a stable numeric exit code.
package guard

import (
	"context"
	"errors"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/turn"
)

// Exit codes. 10-19 structural, 20-29 quality, 30-39 process, 40-49 access.
// 15, 19 and 30 are reserved.
const (
	CodeTagOrder    = 10
	CodeThinkTokens = 11
	CodePhaseLabel  = 12
	CodeNetwork     = 13
	CodePatchSize   = 14
	CodeStepPlan    = 16
	CodeTriage      = 17
	CodeLint        = 18
	CodeRFC         = 20
	CodeTests       = 21
	CodeWBSApproval = 31
	CodeRole        = 40
	CodeState       = 41
)

// Category names the taxonomy range an exit code belongs to.
func Category(code int) string {
	switch {
	case code >= 10 && code <= 19:
		return "structural"
	case code >= 20 && code <= 29:
		return "quality"
	case code >= 30 && code <= 39:
		return "process"
	case code >= 40 && code <= 49:
		return "access"
	default:
		return "unknown"
	}
}

// Input is what a guard check sees for one validation call.
type Input struct {
	Doc  *turn.Document
	Role string

	warnings []string
}

func (in *Input) warn(msg string) {
	in.warnings = append(in.warnings, msg)
}

// CheckFunc returns nil when the document passes, or an error whose
// message is the failure reason.
type CheckFunc func(ctx context.Context, in *Input) error

// Guard is one named validation rule.
type Guard struct {
	ID          string
	ExitCode    int
	Description string
	// Priority orders evaluation; lower runs first, ties keep
	// registration order.
	Priority int
	// Phases restricts the guard to documents in these phases. Nil means
	// the guard always applies.
	Phases []domain.Phase
	Check  CheckFunc
}

// AppliesTo reports whether the guard runs for a document in phase.
func (g Guard) AppliesTo(phase domain.Phase) bool {
	if len(g.Phases) == 0 {
		return true
	}
	for _, p := range g.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// GuardInfo is the catalogue entry for one guard.
type GuardInfo struct {
	ID          string         `json:"id"`
	ExitCode    int            `json:"exitCode"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Phases      []domain.Phase `json:"phases,omitempty"`
}

func fail(msg string) error {
	return errors.New(msg)
}
