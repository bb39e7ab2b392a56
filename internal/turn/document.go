// Package turn parses agent turn documents: the phase label, the bracketed
// think/act/verify/next sections, and declared state transitions.
package turn

import (
	"regexp"
	"strings"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Section names recognised by the guard pipeline.
const (
	SectionThink  = "think"
	SectionAct    = "act"
	SectionVerify = "verify"
	SectionNext   = "next"
)

var (
	phaseLabelRe = regexp.MustCompile(`(?m)^(FETCH|INV|ANA|PLAN|BUILD|VERIF|REL):`)
	openTagRe    = regexp.MustCompile(`<([^>]+)>`)
	transitionRe = regexp.MustCompile(`State-Transition:\s*(\w+)\s*(?:→|->)\s*(\w+)`)
	sectionTagRe = regexp.MustCompile(`</?(?:think|act|verify|next)>`)

	sectionRes = map[string]*regexp.Regexp{
		SectionThink:  sectionPattern(SectionThink),
		SectionAct:    sectionPattern(SectionAct),
		SectionVerify: sectionPattern(SectionVerify),
		SectionNext:   sectionPattern(SectionNext),
	}
)

func sectionPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(name) + `>(.*?)</` + regexp.QuoteMeta(name) + `>`)
}

// Declaration is a `State-Transition: FROM→TO` line found in a document.
type Declaration struct {
	From string
	To   string
}

// Document is a parsed, immutable turn document.
type Document struct {
	Raw   string
	Phase domain.Phase
	Tags  []string
}

// Parse extracts the phase label and the opening tags of content.
// Parsing never fails; missing pieces are left empty.
func Parse(content string) *Document {
	doc := &Document{Raw: content}
	if m := phaseLabelRe.FindStringSubmatch(content); m != nil {
		doc.Phase = domain.Phase(m[1])
	}
	for _, m := range openTagRe.FindAllStringSubmatch(content, -1) {
		if strings.HasPrefix(m[1], "/") {
			continue
		}
		doc.Tags = append(doc.Tags, m[1])
	}
	return doc
}

// HasPhase reports whether the document carries a phase label line.
func (d *Document) HasPhase() bool {
	return d.Phase != ""
}

// HasTag reports whether an opening tag with the given name appears.
func (d *Document) HasTag(name string) bool {
	for _, t := range d.Tags {
		if t == name {
			return true
		}
	}
	return false
}

// Section returns the body of the first complete <name>...</name> section.
func (d *Document) Section(name string) (string, bool) {
	re, ok := sectionRes[name]
	if !ok {
		re = sectionPattern(name)
	}
	m := re.FindStringSubmatch(d.Raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Transitions returns every declared state transition in document order.
func (d *Document) Transitions() []Declaration {
	var out []Declaration
	for _, m := range transitionRe.FindAllStringSubmatch(d.Raw, -1) {
		out = append(out, Declaration{From: m[1], To: m[2]})
	}
	return out
}

// Markdown returns the document with section tags blanked out so that
// fenced code and tables inside sections parse as ordinary markdown
// instead of being swallowed by an HTML block.
func (d *Document) Markdown() string {
	return sectionTagRe.ReplaceAllString(d.Raw, "\n\n")
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
