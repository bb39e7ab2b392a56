package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/turn"
	"github.com/Rogers-F/turngov/internal/vcs"
)

var (
	networkRe       = regexp.MustCompile(`https?://`)
	testFileRe      = regexp.MustCompile(`\.(spec|test)\.(ts|js|tsx|jsx)`)
	testCallRe      = regexp.MustCompile(`\b(describe|it|test|expect)\s*\(`)
	describeBlockRe = regexp.MustCompile("describe\\s*\\(\\s*['\"`]([^'\"`]+)['\"`]")
	itBlockRe       = regexp.MustCompile("(?:it|test)\\s*\\(\\s*['\"`]([^'\"`]+)['\"`]")
	consoleLogRe    = regexp.MustCompile(`console\.log\(`)
	anyTypeRe       = regexp.MustCompile(`:\s*any\b`)
	varDeclRe       = regexp.MustCompile(`\bvar\s+\w+`)
)

var tagOrder = []string{
	turn.SectionThink,
	turn.SectionAct,
	turn.SectionVerify,
	turn.SectionNext,
}

var scriptLanguages = map[string]bool{
	"typescript": true,
	"javascript": true,
	"ts":         true,
	"js":         true,
}

var rfcSections = []string{"Problem", "Solution", "Risks", "Timeline"}

// DefaultRoleRestrictions bars review, doc and qa roles from path prefixes.
func DefaultRoleRestrictions() map[string][]string {
	return map[string][]string{
		"review": {"src/", "tests/"},
		"doc":    {"src/", "tests/"},
		"qa":     {"src/"},
	}
}

// defaultGuards returns the catalogue in registration order.
func (p *Pipeline) defaultGuards() []Guard {
	return []Guard{
		{ID: "G-PHASE", ExitCode: CodeTagOrder, Description: "Validates tag order (think, act, verify, next)", Check: checkTagOrder},
		{ID: "G-TOKEN", ExitCode: CodeThinkTokens, Description: "Checks think section token count (20-700)", Priority: -1, Check: p.checkThinkTokens},
		{ID: "G-LABEL", ExitCode: CodePhaseLabel, Description: "Ensures phase label is present", Check: checkPhaseLabel},
		{ID: "G-NET", ExitCode: CodeNetwork, Description: "Restricts network access to FETCH phase", Check: checkNetwork},
		{ID: "G-SIZE", ExitCode: CodePatchSize, Description: "Enforces patch size limits (1000 LOC, 10 files)", Check: p.checkPatchSize},
		{ID: "G-PLAN", ExitCode: CodeStepPlan, Description: "Requires step-plan comment in act section", Check: checkStepPlan},
		{ID: "G-TRIAGE", ExitCode: CodeTriage, Description: "Ensures Assumed Goals in non-FETCH phases", Check: checkTriage},
		{ID: "G-RFC", ExitCode: CodeRFC, Description: "Validates RFC format in PLAN phase", Phases: []domain.Phase{domain.PhasePlan}, Check: checkRFC},
		{ID: "G-TEST", ExitCode: CodeTests, Description: "Ensures test compilation and structure", Phases: []domain.Phase{domain.PhaseBuild, domain.PhaseVerif}, Check: checkTests},
		{ID: "G-WBS-OK", ExitCode: CodeWBSApproval, Description: "Validates WBS approval in PLAN phase", Phases: []domain.Phase{domain.PhasePlan}, Check: checkWBSApproval},
		{ID: "G-ROLE", ExitCode: CodeRole, Description: "Enforces role-based access restrictions", Check: p.checkRole},
		{ID: "G-STATE", ExitCode: CodeState, Description: "Validates state transitions", Check: checkStateTransition},
		{ID: "G-LINT", ExitCode: CodeLint, Description: "Checks code for linting issues", Check: checkLint},
	}
}

func checkTagOrder(_ context.Context, in *Input) error {
	tags := in.Doc.Tags
	invalid := fail("Tag order invalid: " + strings.Join(tags, " "))

	last := -1
	for _, tag := range tags {
		idx := indexOf(tagOrder, tag)
		if idx == -1 {
			continue
		}
		if idx <= last {
			return invalid
		}
		last = idx
	}
	if in.Doc.HasTag(turn.SectionThink) && tags[0] != turn.SectionThink {
		return invalid
	}
	if in.Doc.HasTag(turn.SectionAct) && !in.Doc.HasTag(turn.SectionThink) {
		return invalid
	}
	return nil
}

func (p *Pipeline) checkThinkTokens(_ context.Context, in *Input) error {
	body, ok := in.Doc.Section(turn.SectionThink)
	if !ok {
		return fail("<think> section not found")
	}
	n := turn.WordCount(body)
	if n < p.limits.MinThinkWords || n > p.limits.MaxThinkWords {
		return fail(fmt.Sprintf("<think> tokens out of range (%d)", n))
	}
	return nil
}

func checkPhaseLabel(_ context.Context, in *Input) error {
	if !in.Doc.HasPhase() {
		return fail("Phase label missing")
	}
	return nil
}

func checkNetwork(_ context.Context, in *Input) error {
	if networkRe.MatchString(in.Doc.Raw) && in.Doc.Phase != domain.PhaseFetch {
		return fail("Network access only allowed in FETCH phase")
	}
	return nil
}

func (p *Pipeline) checkPatchSize(ctx context.Context, in *Input) error {
	if p.diff == nil {
		return nil
	}
	stats, err := boundedCall(ctx, p.limits.DiffTimeout, func(ctx context.Context) ([]vcs.FileStat, error) {
		return p.diff.Numstat(ctx, true)
	})
	if err != nil {
		p.skipped(in, "G-SIZE", err)
		return nil
	}
	added := vcs.TotalAdded(stats)
	if added > p.limits.MaxPatchLines || len(stats) > p.limits.MaxPatchFiles {
		return fail(fmt.Sprintf("Patch size exceeds limit (LOC %d, files %d)", added, len(stats)))
	}
	return nil
}

func checkStepPlan(_ context.Context, in *Input) error {
	raw := in.Doc.Raw
	start := strings.Index(raw, "<act>")
	if start < 0 {
		return nil
	}
	body, ok := in.Doc.Section(turn.SectionAct)
	if !ok {
		body = raw[start:]
	}
	if !strings.Contains(body, "# step-plan:") {
		return fail("# step-plan: comment missing in <act>")
	}
	return nil
}

func checkTriage(_ context.Context, in *Input) error {
	if in.Doc.HasPhase() && in.Doc.Phase != domain.PhaseFetch && !strings.Contains(in.Doc.Raw, "Assumed Goals") {
		return fail("Assumed Goals section missing")
	}
	return nil
}

func checkRFC(_ context.Context, in *Input) error {
	body, ok := in.Doc.Section(turn.SectionAct)
	if !ok {
		return nil
	}
	outline := turn.ParseMarkdown(body)

	var missing []string
	for _, section := range rfcSections {
		if !hasRFCSection(outline, section) {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		return fail("RFC missing required sections: " + strings.Join(missing, ", "))
	}
	return nil
}

func hasRFCSection(outline turn.Outline, section string) bool {
	want := strings.ToLower(section)
	for _, h := range outline.Headings {
		if strings.HasPrefix(strings.ToLower(h), want) {
			return true
		}
	}
	for _, b := range outline.Bold {
		if strings.EqualFold(strings.TrimSuffix(b, ":"), section) {
			return true
		}
	}
	return false
}

func checkTests(_ context.Context, in *Input) error {
	hasTestFiles := testFileRe.MatchString(in.Doc.Raw)
	hasTestCode := false
	for _, block := range turn.ParseMarkdown(in.Doc.Markdown()).CodeBlocks {
		if scriptLanguages[block.Language] && testCallRe.MatchString(block.Code) {
			hasTestCode = true
			break
		}
	}

	if in.Doc.Phase == domain.PhaseVerif && !hasTestFiles && !hasTestCode {
		return fail("No test files or test code found in VERIF phase")
	}
	if hasTestCode && !describeBlockRe.MatchString(in.Doc.Raw) && !itBlockRe.MatchString(in.Doc.Raw) {
		return fail("Test code found but no proper test structure (describe/it blocks)")
	}
	return nil
}

func checkWBSApproval(_ context.Context, in *Input) error {
	if strings.Contains(in.Doc.Raw, "WBS-OK") {
		return nil
	}
	for _, table := range turn.ParseMarkdown(in.Doc.Markdown()).Tables {
		guardCol := table.Column("guard")
		if guardCol < 0 || table.Column("phase") < 0 || table.Column("step") < 0 || table.Column("task") < 0 {
			continue
		}
		for _, row := range table.Rows {
			if guardCol >= len(row) || unassigned(row[guardCol]) {
				return fail("WBS items not approved (missing guards)")
			}
		}
	}
	return nil
}

func unassigned(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "-", "–", "—":
		return true
	}
	return false
}

func (p *Pipeline) checkRole(ctx context.Context, in *Input) error {
	restricted, ok := p.roles[in.Role]
	if !ok || len(restricted) == 0 || p.diff == nil {
		return nil
	}
	files, err := boundedCall(ctx, p.limits.DiffTimeout, func(ctx context.Context) ([]string, error) {
		return p.diff.ChangedFiles(ctx, true)
	})
	if err != nil {
		p.skipped(in, "G-ROLE", err)
		return nil
	}
	for _, file := range files {
		for _, prefix := range restricted {
			if strings.HasPrefix(file, prefix) {
				return fail(fmt.Sprintf("%s role not allowed to edit %s", in.Role, prefix))
			}
		}
	}
	return nil
}

func checkStateTransition(_ context.Context, in *Input) error {
	if !in.Doc.HasPhase() {
		return nil
	}
	for _, decl := range in.Doc.Transitions() {
		from, ok := domain.ParsePhase(decl.From)
		if ok && domain.IsLegalTransition(from, domain.Phase(decl.To)) {
			continue
		}
		return fail(fmt.Sprintf("Invalid state transition: %s→%s", decl.From, decl.To))
	}
	return nil
}

func checkLint(_ context.Context, in *Input) error {
	var issues []string
	add := func(issue string) {
		if indexOf(issues, issue) < 0 {
			issues = append(issues, issue)
		}
	}
	for _, block := range turn.ParseMarkdown(in.Doc.Markdown()).CodeBlocks {
		if !scriptLanguages[block.Language] {
			continue
		}
		if consoleLogRe.MatchString(block.Code) && in.Doc.Phase != domain.PhaseInv {
			add("console.log statements found")
		}
		if anyTypeRe.MatchString(block.Code) {
			add(`TypeScript "any" type usage detected`)
		}
		if varDeclRe.MatchString(block.Code) {
			add(`"var" keyword used instead of let/const`)
		}
	}
	if len(issues) > 0 {
		return fail("Linting issues: " + strings.Join(issues, ", "))
	}
	return nil
}

// skipped records a collaborator failure. A repository that simply is not
// there is expected and stays quiet; anything else becomes a warning.
func (p *Pipeline) skipped(in *Input, guardID string, err error) {
	if errors.Is(err, domain.ErrDiffUnavailable) {
		p.logger.Debug("guard skipped, no version control context", zap.String("guard", guardID))
		return
	}
	p.logger.Warn("guard skipped", zap.String("guard", guardID), zap.Error(err))
	in.warn(fmt.Sprintf("%s: check skipped (%v)", guardID, err))
}

// boundedCall runs fn under a deadline and abandons it once the deadline
// passes. fn must tolerate its result being discarded.
func boundedCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{val: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
