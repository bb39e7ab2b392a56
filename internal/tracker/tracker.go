// Package tracker talks to the external issue tracker that mirrors each
// task's phase as a "phase:<PHASE>" label.
package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LabelPrefix starts every phase label.
const LabelPrefix = "phase:"

// IssueRef identifies one issue. Empty Owner or Repo fall back to the
// tracker's configured defaults.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

// String renders the ref as owner/repo#number.
func (r IssueRef) String() string {
	if r.Owner == "" && r.Repo == "" {
		return "#" + strconv.Itoa(r.Number)
	}
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

var issueNumberRe = regexp.MustCompile(`#(\d+)$`)

// ParseIssueRef parses "owner/repo#123". A bare "#123" yields a ref with
// only the number set. ok is false when no trailing issue number exists.
func ParseIssueRef(s string) (IssueRef, bool) {
	m := issueNumberRe.FindStringSubmatchIndex(s)
	if m == nil {
		return IssueRef{}, false
	}
	n, err := strconv.Atoi(s[m[2]:m[3]])
	if err != nil || n <= 0 {
		return IssueRef{}, false
	}
	ref := IssueRef{Number: n}
	owner, repo, found := strings.Cut(s[:m[0]], "/")
	if found {
		ref.Owner = owner
		ref.Repo = repo
	}
	return ref, true
}

// PhaseLabel returns the label that marks phase.
func PhaseLabel(phase string) string {
	return LabelPrefix + phase
}
