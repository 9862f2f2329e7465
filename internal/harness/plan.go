package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed plan.cue
var planSchema string

// Plan is a list of test cases to run against a Registry.
type Plan struct {
	// Name identifies the plan. Journaled runs are labelled with it.
	Name string `yaml:"name" json:"name"`

	// Description explains what the plan covers.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Assembly roots every test identity. Defaults to Name.
	Assembly string `yaml:"assembly,omitempty" json:"assembly,omitempty"`

	// Cases run in declared order when sequential; results are always
	// reported in declared order.
	Cases []Case `yaml:"cases" json:"cases"`
}

// Case is one test: a registered class and method plus arguments and hooks.
type Case struct {
	Class       string `yaml:"class" json:"class"`
	Method      string `yaml:"method" json:"method"`
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`

	// Collection groups cases for identity purposes. Defaults to Class.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	ConstructorArgs []any `yaml:"constructor_args,omitempty" json:"constructor_args,omitempty"`
	Args            []any `yaml:"args,omitempty" json:"args,omitempty"`

	// Hooks names registered hooks, outermost first.
	Hooks []string `yaml:"hooks,omitempty" json:"hooks,omitempty"`

	// Expect describes the expected result. If nil the test must pass.
	Expect *Expect `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Expect is what a case should produce.
type Expect struct {
	// Outcome is "pass" or "fail". Empty means "pass".
	Outcome string `yaml:"outcome,omitempty" json:"outcome,omitempty"`

	// Failures, if set, is the exact number of captured failures.
	Failures *int `yaml:"failures,omitempty" json:"failures,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// Assertion checks a case's trace or failures.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Event appears in the trace
	// - "trace_order": Events appear in order, not necessarily adjacent
	// - "trace_count": Event appears exactly Count times
	// - "failure_contains": some failure message contains Text
	Type string `yaml:"type" json:"type"`

	// Event is a trace event as "kind" or "kind(hook)".
	Event  string   `yaml:"event,omitempty" json:"event,omitempty"`
	Events []string `yaml:"events,omitempty" json:"events,omitempty"`
	Count  int      `yaml:"count,omitempty" json:"count,omitempty"`
	Text   string   `yaml:"text,omitempty" json:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertFailureContains = "failure_contains"
)

// Outcome values.
const (
	OutcomePass    = "pass"
	OutcomeFail    = "fail"
	OutcomeSkipped = "skipped"
)

// LoadPlan reads a plan from a .yaml, .yml or .cue file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParsePlanYAML(data)
	case ".cue":
		return ParsePlanCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported plan format %q (want .yaml, .yml or .cue)", ext)
	}
}

// ParsePlanYAML parses and validates a YAML plan.
func ParsePlanYAML(data []byte) (*Plan, error) {
	var plan Plan
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validatePlan(&plan); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &plan, nil
}

// ParsePlanCUE unifies a CUE plan with the #Plan schema, then validates
// and decodes it. filename is used in error positions only.
func ParsePlanCUE(data []byte, filename string) (*Plan, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(planSchema, cue.Filename("plan.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Plan")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	var plan Plan
	if err := unified.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	if err := validatePlan(&plan); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &plan, nil
}

// validatePlan checks that required fields are present and valid.
func validatePlan(p *Plan) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Cases) == 0 {
		return fmt.Errorf("cases list is required and must be non-empty")
	}

	for i := range p.Cases {
		c := &p.Cases[i]
		if c.Class == "" {
			return fmt.Errorf("cases[%d]: class is required", i)
		}
		if c.Method == "" {
			return fmt.Errorf("cases[%d]: method is required", i)
		}
		if c.Expect == nil {
			continue
		}
		switch c.Expect.Outcome {
		case "", OutcomePass, OutcomeFail:
		default:
			return fmt.Errorf("cases[%d].expect: outcome must be %q or %q, got %q", i, OutcomePass, OutcomeFail, c.Expect.Outcome)
		}
		if c.Expect.Failures != nil && *c.Expect.Failures < 0 {
			return fmt.Errorf("cases[%d].expect: failures must be non-negative", i)
		}
		for j := range c.Expect.Assertions {
			if err := validateAssertion(i, j, &c.Expect.Assertions[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(caseIndex, index int, a *Assertion) error {
	where := fmt.Sprintf("cases[%d].expect.assertions[%d]", caseIndex, index)
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", where)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("%s: event is required for trace_contains", where)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("%s: events list is required for trace_order", where)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("%s: event is required for trace_count", where)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative for trace_count", where)
		}
	case AssertFailureContains:
		if a.Text == "" {
			return fmt.Errorf("%s: text is required for failure_contains", where)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}

	return nil
}
