package guard

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/turngov/internal/domain"
	"github.com/Rogers-F/turngov/internal/metrics"
	"github.com/Rogers-F/turngov/internal/turn"
	"github.com/Rogers-F/turngov/internal/vcs"
)

// DefaultRole is used when neither the caller, the configuration, nor the
// TURN_ROLE environment variable names one.
const DefaultRole = "dev"

// DiffProvider reports staged or unstaged changes. Implementations signal
// a missing repository with domain.ErrDiffUnavailable.
type DiffProvider interface {
	Numstat(ctx context.Context, staged bool) ([]vcs.FileStat, error)
	ChangedFiles(ctx context.Context, staged bool) ([]string, error)
}

// DocumentProvider reads turn documents by path.
type DocumentProvider interface {
	Read(ctx context.Context, path string) (string, error)
}

// FileDocuments reads documents from the local filesystem.
type FileDocuments struct{}

func (FileDocuments) Read(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Limits holds the numeric thresholds used by the guards.
type Limits struct {
	MinThinkWords int
	MaxThinkWords int
	MaxPatchLines int
	MaxPatchFiles int
	DiffTimeout   time.Duration
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{
		MinThinkWords: 20,
		MaxThinkWords: 700,
		MaxPatchLines: 1000,
		MaxPatchFiles: 10,
		DiffTimeout:   5 * time.Second,
	}
}

// Options controls a single validation call.
type Options struct {
	CheckAllGuards bool   `json:"checkAllGuards"`
	Role           string `json:"role,omitempty"`
}

// Pipeline runs the guard catalogue over turn documents. It holds no
// per-call state and is safe for concurrent use.
type Pipeline struct {
	guards  []Guard
	logger  *zap.Logger
	diff    DiffProvider
	docs    DocumentProvider
	metrics *metrics.Metrics
	limits  Limits
	roles   map[string][]string
	role    string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDiffProvider enables the patch-size and role guards. Without one
// both guards pass.
func WithDiffProvider(d DiffProvider) Option {
	return func(p *Pipeline) { p.diff = d }
}

func WithDocuments(d DocumentProvider) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.docs = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLimits overrides the non-zero fields of l.
func WithLimits(l Limits) Option {
	return func(p *Pipeline) {
		if l.MinThinkWords > 0 {
			p.limits.MinThinkWords = l.MinThinkWords
		}
		if l.MaxThinkWords > 0 {
			p.limits.MaxThinkWords = l.MaxThinkWords
		}
		if l.MaxPatchLines > 0 {
			p.limits.MaxPatchLines = l.MaxPatchLines
		}
		if l.MaxPatchFiles > 0 {
			p.limits.MaxPatchFiles = l.MaxPatchFiles
		}
		if l.DiffTimeout > 0 {
			p.limits.DiffTimeout = l.DiffTimeout
		}
	}
}

// WithRoleRestrictions replaces the role to barred-prefix map.
func WithRoleRestrictions(r map[string][]string) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.roles = r
		}
	}
}

// WithDefaultRole sets the role used when a call does not name one.
func WithDefaultRole(role string) Option {
	return func(p *Pipeline) { p.role = role }
}

// New builds a pipeline with the full guard catalogue.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: zap.NewNop(),
		docs:   FileDocuments{},
		limits: DefaultLimits(),
		roles:  DefaultRoleRestrictions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.guards = p.defaultGuards()
	sort.SliceStable(p.guards, func(i, j int) bool {
		return p.guards[i].Priority < p.guards[j].Priority
	})
	return p
}

// Validate runs every applicable guard over content in evaluation order.
// It never returns an error; failures are reported in the result.
func (p *Pipeline) Validate(ctx context.Context, content string, opts Options) (result domain.ValidationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("validation panicked", zap.Any("panic", r))
			result = validationError(fmt.Errorf("%v", r))
		}
		p.metrics.ObserveValidation(result.Valid, time.Since(start))
	}()

	doc := turn.Parse(content)
	in := &Input{Doc: doc, Role: p.resolveRole(opts.Role)}
	result = domain.ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
		Phase:    doc.Phase,
	}

	for _, g := range p.guards {
		if !g.AppliesTo(doc.Phase) {
			continue
		}
		err := g.Check(ctx, in)
		if err == nil {
			continue
		}
		p.metrics.GuardFailed(g.ID)
		result.Errors = append(result.Errors, g.ID+": "+err.Error())
		if !opts.CheckAllGuards {
			break
		}
		result.GuardFailures = append(result.GuardFailures, domain.GuardFailure{
			Guard:    g.ID,
			Message:  err.Error(),
			ExitCode: g.ExitCode,
		})
	}

	result.Warnings = append(result.Warnings, in.warnings...)
	result.Valid = len(result.Errors) == 0
	p.logger.Debug("turn validated",
		zap.String("phase", string(doc.Phase)),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

// ValidateFile reads path through the document provider and validates it.
// A read failure yields a single "Validation error" entry.
func (p *Pipeline) ValidateFile(ctx context.Context, path string, opts Options) domain.ValidationResult {
	content, err := p.docs.Read(ctx, path)
	if err != nil {
		p.logger.Warn("read turn document", zap.String("path", path), zap.Error(err))
		result := validationError(err)
		p.metrics.ObserveValidation(false, 0)
		return result
	}
	return p.Validate(ctx, content, opts)
}

func validationError(err error) domain.ValidationResult {
	return domain.ValidationResult{
		Valid:    false,
		Errors:   []string{"Validation error: " + err.Error()},
		Warnings: []string{},
	}
}

func (p *Pipeline) resolveRole(role string) string {
	if role != "" {
		return role
	}
	if p.role != "" {
		return p.role
	}
	if env := os.Getenv("TURN_ROLE"); env != "" {
		return env
	}
	return DefaultRole
}

// Guards returns the catalogue in evaluation order.
func (p *Pipeline) Guards() []GuardInfo {
	out := make([]GuardInfo, 0, len(p.guards))
	for _, g := range p.guards {
		out = append(out, GuardInfo{
			ID:          g.ID,
			ExitCode:    g.ExitCode,
			Description: g.Description,
			Category:    Category(g.ExitCode),
			Phases:      g.Phases,
		})
	}
	return out
}

// ExitCode maps a guard id to its exit code.
func (p *Pipeline) ExitCode(guardID string) (int, bool) {
	for _, g := range p.guards {
		if g.ID == guardID {
			return g.ExitCode, true
		}
	}
	return 0, false
}
