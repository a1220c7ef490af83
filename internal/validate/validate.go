// Package validate checks request payloads against declarative, ordered
// per-field rule sets and reports failures keyed by field name.
package validate

import (
	"errors"
)

// DefaultMessage is reported by rules that have no specific reason.
const DefaultMessage = "Invalid value"

// Fields is the flat view of a request payload that rules inspect.
type Fields map[string]string

// Rule checks one field. The full field set is passed for cross-field rules.
type Rule interface {
	Check(value string, all Fields) error
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(value string, all Fields) error

func (f RuleFunc) Check(value string, all Fields) error { return f(value, all) }

// NotEmpty fails on empty values. Whitespace counts as a value.
func NotEmpty() Rule {
	return RuleFunc(func(value string, _ Fields) error {
		if value == "" {
			return errors.New(DefaultMessage)
		}
		return nil
	})
}

// Custom wraps a predicate; the returned error text becomes the field reason.
func Custom(fn func(value string, all Fields) error) Rule {
	return RuleFunc(fn)
}

// FieldRule binds a rule to a field.
type FieldRule struct {
	Field string
	Rule  Rule
}

// Ruleset is evaluated in order. Only the first failure per field is kept.
type Ruleset []FieldRule

// Result is either valid or a non-empty field → reason mapping.
type Result struct {
	Errors map[string]string
}

// Valid reports whether no rule failed.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Validate runs every rule against f.
func (rs Ruleset) Validate(f Fields) Result {
	var errs map[string]string
	for _, fr := range rs {
		if _, seen := errs[fr.Field]; seen {
			continue
		}
		if err := fr.Rule.Check(f[fr.Field], f); err != nil {
			if errs == nil {
				errs = make(map[string]string)
			}
			msg := err.Error()
			if msg == "" {
				msg = DefaultMessage
			}
			errs[fr.Field] = msg
		}
	}
	return Result{Errors: errs}
}
