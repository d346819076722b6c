// Package agents owns the agent catalog: definitions, input contracts,
// prompt rendering and output contracts.
//
// DESIGN: Kind is a closed set resolved by switch. Unknown kinds never reach
// execution; the catalog rejects them when the YAML loads. Each kind carries
// its own output contract: generation returns trimmed text, extraction
// returns one JSON object validated against declared required fields.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/config"
)

// Classified failures. The HTTP layer maps each to an error code.
var (
	ErrNotFound        = errors.New("agent not found")
	ErrKindUnsupported = errors.New("unsupported agent kind")
	ErrInvalidInput    = errors.New("input validation failed")
	ErrOutputContract  = errors.New("output contract violation")
)

// =============================================================================
// AGENT KIND - Closed set, rejected at load when unknown
// =============================================================================

// Kind selects the input/output contract of an agent.
type Kind string

const (
	// KindGeneration produces free text; contract: non-blank.
	KindGeneration Kind = "generation"

	// KindExtraction produces one JSON object with declared required fields.
	KindExtraction Kind = "extraction"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generation":
		return KindGeneration, nil
	case "extraction":
		return KindExtraction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrKindUnsupported, s)
	}
}

// =============================================================================
// ROUTES AND MODEL POLICY
// =============================================================================

// Route is one (provider, model) pair the gateway may attempt.
type Route struct {
	Provider adapters.Provider `yaml:"provider" json:"provider"`
	Model    string            `yaml:"model" json:"model"`
}

// String renders "provider/model" for logs and error aggregation.
func (r Route) String() string {
	return string(r.Provider) + "/" + r.Model
}

// ModelPolicy declares where an agent runs and with what parameters.
type ModelPolicy struct {
	Provider    adapters.Provider `yaml:"provider"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float64           `yaml:"temperature"`
	Timeout     time.Duration     `yaml:"timeout"`
	ExtraParams map[string]any    `yaml:"extra_params"`
	Fallbacks   []Route           `yaml:"fallbacks"`
}

// =============================================================================
// CONTRACTS
// =============================================================================

// InputContract declares the variables an execution must (or may) supply.
type InputContract struct {
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`

	// MaxChars caps each rendered variable. Zero means the global default.
	MaxChars int `yaml:"max_chars"`
}

// OutputContract applies to extraction agents: fields that must exist in
// the returned object. Nested fields use dotted paths.
type OutputContract struct {
	RequiredFields []string `yaml:"required_fields"`
}

// =============================================================================
// DEFINITION
// =============================================================================

// Definition is one immutable catalog entry.
type Definition struct {
	ID              string         `yaml:"id"`
	Version         string         `yaml:"version"`
	Name            string         `yaml:"name"`
	Kind            Kind           `yaml:"kind"`
	SystemPrompt    string         `yaml:"system_prompt"`
	UserPrompt      string         `yaml:"user_prompt"`
	Input           InputContract  `yaml:"input"`
	Output          OutputContract `yaml:"output"`
	Model           ModelPolicy    `yaml:"model"`
	EstimatedTokens int            `yaml:"estimated_tokens"`
}

// templateVarPattern matches {{variable}} placeholders.
var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// templateVars returns the distinct placeholder names in s.
func templateVars(s string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range templateVarPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// declaredVars returns the set of variables the input contract names.
func (d *Definition) declaredVars() map[string]bool {
	vars := make(map[string]bool, len(d.Input.Required)+len(d.Input.Optional))
	for _, name := range d.Input.Required {
		vars[name] = true
	}
	for _, name := range d.Input.Optional {
		vars[name] = true
	}
	return vars
}

// maxChars returns the per-variable size cap for this definition.
func (d *Definition) maxChars() int {
	if d.Input.MaxChars > 0 {
		return d.Input.MaxChars
	}
	return config.DefaultMaxInputChars
}

// stringifyValue renders one input value for template substitution. Strings
// pass through; everything else becomes compact JSON.
func stringifyValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ValidateInput checks input against the contract and returns the
// stringified variable values ready for rendering.
func (d *Definition) ValidateInput(input map[string]any) (map[string]string, error) {
	declared := d.declaredVars()
	limit := d.maxChars()

	values := make(map[string]string, len(input))
	for name, raw := range input {
		if !declared[name] {
			return nil, fmt.Errorf("%w: unknown input variable %q", ErrInvalidInput, name)
		}
		value, err := stringifyValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %q has an unsupported value", ErrInvalidInput, name)
		}
		if len(value) > limit {
			return nil, fmt.Errorf("%w: variable %q exceeds %d characters", ErrInvalidInput, name, limit)
		}
		values[name] = value
	}

	for _, name := range d.Input.Required {
		if strings.TrimSpace(values[name]) == "" {
			return nil, fmt.Errorf("%w: missing required variable %q", ErrInvalidInput, name)
		}
	}

	return values, nil
}

// RenderPrompts substitutes validated values into the system and user
// templates. Absent optional variables render as empty strings.
func (d *Definition) RenderPrompts(values map[string]string) (system, user string) {
	render := func(tpl string) string {
		return templateVarPattern.ReplaceAllStringFunc(tpl, func(m string) string {
			name := templateVarPattern.FindStringSubmatch(m)[1]
			return values[name]
		})
	}
	return render(d.SystemPrompt), render(d.UserPrompt)
}

// ResponseFormat returns the completion format this kind requires.
func (d *Definition) ResponseFormat() adapters.ResponseFormat {
	if d.Kind == KindExtraction {
		return adapters.FormatJSON
	}
	return adapters.FormatText
}

// Routes returns the full attempt order: preferred first, then declared
// fallbacks, unmodified.
func (d *Definition) Routes() []Route {
	routes := make([]Route, 0, 1+len(d.Model.Fallbacks))
	routes = append(routes, Route{Provider: d.Model.Provider, Model: d.Model.Model})
	routes = append(routes, d.Model.Fallbacks...)
	return routes
}
