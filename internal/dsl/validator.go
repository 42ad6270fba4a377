package dsl

import "fmt"

// Rule names a validation check. It is used as a metrics label and lets
// callers branch on the failure without parsing the message.
type Rule string

const (
	RuleNone             Rule = ""
	RuleUnknownCommand   Rule = "unknown_command"
	RuleMissingID        Rule = "missing_id"
	RuleDuplicateID      Rule = "duplicate_id"
	RuleUnknownID        Rule = "unknown_id"
	RuleUnknownReference Rule = "unknown_reference"
	RuleNonPositive      Rule = "non_positive"
	RuleMissingArgument  Rule = "missing_argument"
	RuleNotANumber       Rule = "not_a_number"
	RuleSelfSubtract     Rule = "self_subtract"
	RuleNoSolid          Rule = "no_solid"
	RuleMissingExport    Rule = "missing_export"
)

// Result is the validator verdict. Message is meant to be read by a person
// or folded back into a generation prompt.
type Result struct {
	Valid    bool
	Message  string
	Rule     Rule
	Line     int
	Command  string
	Warnings []string
}

func valid(warnings []string) Result {
	return Result{Valid: true, Message: "Valid DSL", Warnings: warnings}
}

func invalid(rule Rule, cmd Command, format string, args ...any) Result {
	return Result{
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
		Line:    cmd.Line,
		Command: cmd.Name,
	}
}

// Validator checks a sequence in one forward pass and stops at the first
// violation. It does not simulate geometry.
type Validator struct {
	requireExport bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithRequireExport controls whether a program without EXPORT is rejected.
func WithRequireExport(require bool) Option {
	return func(v *Validator) {
		v.requireExport = require
	}
}

// NewValidator builds a validator. EXPORT is required unless disabled.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{requireExport: true}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the default validator.
func Validate(seq Sequence) Result {
	return NewValidator().Validate(seq)
}

// Validate checks seq.
func (v *Validator) Validate(seq Sequence) Result {
	defined := make(map[string]bool)
	var warnings []string
	exported := false
	created := false

	for _, cmd := range seq {
		kind := cmd.Kind()
		name := kind.String()
		if kind == KindUnknown {
			return invalid(RuleUnknownCommand, cmd, "Unknown command '%s'", cmd.Name)
		}
		if exported {
			warnings = append(warnings, fmt.Sprintf("line %d: %s after EXPORT is ignored", cmd.Line, name))
		}

		if kind.Creates() || kind == KindTranslate || kind == KindFillet {
			id := cmd.Text("id")
			if id == "" {
				return invalid(RuleMissingID, cmd, "Missing id in %s", name)
			}
			if kind.Creates() {
				if defined[id] {
					return invalid(RuleDuplicateID, cmd, "Duplicate id '%s'", id)
				}
				defined[id] = true
				created = true
			} else if !defined[id] {
				return invalid(RuleUnknownID, cmd, "Unknown id '%s' in %s", id, name)
			}
		}

		if kind == KindSubtract {
			target, tool := cmd.Text("target"), cmd.Text("tool")
			if !defined[target] {
				return invalid(RuleUnknownReference, cmd, "Unknown target '%s'", target)
			}
			if !defined[tool] {
				return invalid(RuleUnknownReference, cmd, "Unknown tool '%s'", tool)
			}
			if target == tool {
				return invalid(RuleSelfSubtract, cmd, "Cannot subtract '%s' from itself", target)
			}
		}

		for _, arg := range cmd.Args {
			if !positiveKeys[arg.Key] {
				continue
			}
			if n, ok := arg.Value.Number(); ok && n <= 0 {
				return invalid(RuleNonPositive, cmd, "%s must be positive in %s", arg.Key, name)
			}
		}

		if res, ok := checkShape(cmd, kind); !ok {
			return res
		}

		if kind == KindExport {
			if id := cmd.Text("id"); id != "" && !defined[id] {
				return invalid(RuleUnknownID, cmd, "Unknown id '%s' in EXPORT", id)
			}
			exported = true
		}
	}

	if !created {
		return Result{Rule: RuleNoSolid, Message: "No solid created"}
	}
	if v.requireExport && !exported {
		return Result{Rule: RuleMissingExport, Message: "Missing EXPORT command"}
	}
	return valid(warnings)
}

// checkShape makes sure required arguments exist and numeric keys hold
// numbers, so the executor never has to guess.
func checkShape(cmd Command, kind Kind) (Result, bool) {
	spec, _ := SpecFor(kind)
	name := kind.String()
	for _, key := range spec.Required {
		if !cmd.Has(key) {
			return invalid(RuleMissingArgument, cmd, "Missing %s in %s", key, name), false
		}
	}
	for _, arg := range cmd.Args {
		if spec.IsNumeric(arg.Key) && !arg.Value.IsNumber() {
			return invalid(RuleNotANumber, cmd, "%s must be a number in %s", arg.Key, name), false
		}
	}
	return Result{}, true
}
