// Package policy decides whether an agent operation may proceed, at what
// risk level, and which compliance cycle steps it must complete.
package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/turngov/internal/domain"
)

// Rules is the rule set loaded once at startup. It is read-only afterwards.
type Rules struct {
	Operations       Operations        `yaml:"operations" json:"operations" toml:"operations"`
	Behaviors        Behaviors         `yaml:"behaviors" json:"behaviors" toml:"behaviors"`
	CycleEnforcement *CycleEnforcement `yaml:"cycle_enforcement,omitempty" json:"cycle_enforcement,omitempty" toml:"cycle_enforcement,omitempty"`

	compiled *compiledRules
}

// Operations groups the per-operation rules.
type Operations struct {
	Delete  DeleteRules  `yaml:"delete" json:"delete" toml:"delete"`
	Create  CreateRules  `yaml:"create" json:"create" toml:"create"`
	Modify  ModifyRules  `yaml:"modify" json:"modify" toml:"modify"`
	Execute ExecuteRules `yaml:"execute" json:"execute" toml:"execute"`
}

// FileRules apply to individual files.
type FileRules struct {
	ForbiddenPatterns    []string `yaml:"forbidden_patterns,omitempty" json:"forbidden_patterns,omitempty" toml:"forbidden_patterns,omitempty"`
	ConfirmationTemplate string   `yaml:"confirmation_template,omitempty" json:"confirmation_template,omitempty" toml:"confirmation_template,omitempty"`
}

// DirectoryRules apply to directory deletion.
type DirectoryRules struct {
	Forbidden            []string `yaml:"forbidden,omitempty" json:"forbidden,omitempty" toml:"forbidden,omitempty"`
	ConfirmationTemplate string   `yaml:"confirmation_template,omitempty" json:"confirmation_template,omitempty" toml:"confirmation_template,omitempty"`
}

// DeleteRules covers delete and delete_directory.
type DeleteRules struct {
	Files       FileRules      `yaml:"files" json:"files" toml:"files"`
	Directories DirectoryRules `yaml:"directories" json:"directories" toml:"directories"`
}

// CreateRules covers create.
type CreateRules struct {
	Files FileRules `yaml:"files" json:"files" toml:"files"`
}

// ConfigFileRules name the files whose modification is level 3.
type ConfigFileRules struct {
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty" toml:"patterns,omitempty"`
}

// ModifyRules covers modify.
type ModifyRules struct {
	ConfigFiles ConfigFileRules `yaml:"config_files" json:"config_files" toml:"config_files"`
	Files       FileRules       `yaml:"files" json:"files" toml:"files"`
}

// CommandRules list command substrings.
type CommandRules struct {
	Forbidden            []string `yaml:"forbidden,omitempty" json:"forbidden,omitempty" toml:"forbidden,omitempty"`
	RequireConfirmation  []string `yaml:"require_confirmation,omitempty" json:"require_confirmation,omitempty" toml:"require_confirmation,omitempty"`
	ConfirmationTemplate string   `yaml:"confirmation_template,omitempty" json:"confirmation_template,omitempty" toml:"confirmation_template,omitempty"`
}

// ExecuteRules covers execute.
type ExecuteRules struct {
	Commands CommandRules `yaml:"commands" json:"commands" toml:"commands"`
}

// Behaviors toggles guard side effects.
type Behaviors struct {
	AuditTrail AuditTrail `yaml:"audit_trail" json:"audit_trail" toml:"audit_trail"`
}

// AuditTrail controls LogOperation writes.
type AuditTrail struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`
}

// CycleEnforcement configures the compliance cycle. Levels map a key of
// the form "level_N" to the 1-based step numbers required at risk level N.
type CycleEnforcement struct {
	StrictMode      bool                  `yaml:"strict_mode" json:"strict_mode" toml:"strict_mode"`
	OperationLevels map[string]LevelSteps `yaml:"operation_levels,omitempty" json:"operation_levels,omitempty" toml:"operation_levels,omitempty"`
}

// LevelSteps lists the steps required at one risk level.
type LevelSteps struct {
	RequiredSteps []int `yaml:"required_steps" json:"required_steps" toml:"required_steps"`
}

type compiledRules struct {
	deleteForbidden []Matcher
	configFiles     []Matcher
	levelSteps      map[int][]domain.CycleStep
}

var levelKeyRe = regexp.MustCompile(`^level_(\d+)$`)

// DefaultRules returns the built-in rule set used in degraded mode.
func DefaultRules() *Rules {
	r := &Rules{
		Operations: Operations{
			Delete: DeleteRules{
				Files: FileRules{ForbiddenPatterns: []string{"*.env", "*.md", "package.json"}},
				Directories: DirectoryRules{
					Forbidden: []string{".git", "node_modules", ".claude"},
				},
			},
			Modify: ModifyRules{
				ConfigFiles: ConfigFileRules{Patterns: []string{"*.json", "*.yaml", "*.yml", "*.toml", ".env*"}},
			},
			Execute: ExecuteRules{
				Commands: CommandRules{
					Forbidden:           []string{"rm -rf /", "sudo rm", "mkfs", ":(){ :|:& };:"},
					RequireConfirmation: []string{"rm -r", "git reset --hard", "git push --force", "git clean", "npm publish", "chmod -R"},
				},
			},
		},
		Behaviors: Behaviors{AuditTrail: AuditTrail{Enabled: true}},
	}
	if err := r.compile(); err != nil {
		panic(fmt.Sprintf("default rules: %v", err))
	}
	return r
}

// LoadRules reads and validates a rule set. The format follows the file
// extension: .yaml/.yml, .json/.jsonc, or .toml. Unknown keys are rejected.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewEngineError(domain.ErrRulesNotFound.Code, "rule set not found: "+path)
		}
		return nil, domain.WrapEngineError(domain.ErrRulesNotFound.Code, "read rule set "+path, err)
	}

	r, err := ParseRules(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRulesOrDefault loads path. In degraded mode a missing file yields
// DefaultRules; a malformed file is always an error.
func LoadRulesOrDefault(path string, degraded bool) (*Rules, error) {
	if path == "" && degraded {
		return DefaultRules(), nil
	}
	r, err := LoadRules(path)
	if err != nil {
		if degraded && errors.Is(err, domain.ErrRulesNotFound) {
			return DefaultRules(), nil
		}
		return nil, err
	}
	return r, nil
}

// ParseRules decodes a rule set in the format named by ext.
func ParseRules(data []byte, ext string) (*Rules, error) {
	var r Rules
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&r)
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		err = dec.Decode(&r)
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), &r)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				err = fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
			}
		}
	default:
		return nil, domain.NewEngineError(domain.ErrRulesInvalid.Code, fmt.Sprintf("unsupported rule set format %q", ext))
	}
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrRulesInvalid.Code, "decode rule set", err)
	}

	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

// compile validates the rule set and builds its matchers.
func (r *Rules) compile() error {
	var problems []string
	c := &compiledRules{levelSteps: make(map[int][]domain.CycleStep)}

	compileAll := func(field string, patterns []string) []Matcher {
		out := make([]Matcher, 0, len(patterns))
		for _, p := range patterns {
			m, err := CompileGlob(p)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", field, err))
				continue
			}
			out = append(out, m)
		}
		return out
	}
	c.deleteForbidden = compileAll("operations.delete.files.forbidden_patterns", r.Operations.Delete.Files.ForbiddenPatterns)
	c.configFiles = compileAll("operations.modify.config_files.patterns", r.Operations.Modify.ConfigFiles.Patterns)

	for field, list := range map[string][]string{
		"operations.delete.directories.forbidden":          r.Operations.Delete.Directories.Forbidden,
		"operations.execute.commands.forbidden":            r.Operations.Execute.Commands.Forbidden,
		"operations.execute.commands.require_confirmation": r.Operations.Execute.Commands.RequireConfirmation,
	} {
		for i, s := range list {
			if strings.TrimSpace(s) == "" {
				problems = append(problems, fmt.Sprintf("%s[%d]: empty entry", field, i))
			}
		}
	}

	if ce := r.CycleEnforcement; ce != nil {
		keys := make([]string, 0, len(ce.OperationLevels))
		for k := range ce.OperationLevels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			m := levelKeyRe.FindStringSubmatch(key)
			if m == nil {
				problems = append(problems, fmt.Sprintf("cycle_enforcement.operation_levels: invalid key %q (want level_N)", key))
				continue
			}
			level, _ := strconv.Atoi(m[1])
			steps := domain.CycleSteps()
			var required []domain.CycleStep
			for _, n := range ce.OperationLevels[key].RequiredSteps {
				if n < 1 || n > len(steps) {
					problems = append(problems, fmt.Sprintf("cycle_enforcement.operation_levels.%s: step %d out of range 1-%d", key, n, len(steps)))
					continue
				}
				required = append(required, steps[n-1])
			}
			c.levelSteps[level] = required
		}
	}

	if len(problems) > 0 {
		return domain.NewEngineError(domain.ErrRulesInvalid.Code, "invalid rule set: "+strings.Join(problems, "; "))
	}
	r.compiled = c
	return nil
}

// StrictCycles reports whether every allowed operation needs a cycle.
func (r *Rules) StrictCycles() bool {
	return r.CycleEnforcement != nil && r.CycleEnforcement.StrictMode
}

// RequiredSteps returns the cycle steps configured for a risk level.
func (r *Rules) RequiredSteps(level int) []domain.CycleStep {
	if r.compiled == nil {
		return []domain.CycleStep{}
	}
	return append([]domain.CycleStep{}, r.compiled.levelSteps[level]...)
}
