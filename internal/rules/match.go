package rules

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Matcher tests one gjson result. A scalar in YAML means eq, a sequence
// means in, and a mapping sets the operators explicitly:
//
//	payload.status: PAID
//	payload.channel: [pos, online]
//	payload.amount: {gte: 100, lt: 5000}
//	metadata.userId: {exists: true}
//
// Every operator that is set must hold. A path that does not exist only
// satisfies {exists: false}.
type Matcher struct {
	Eq       any      `yaml:"eq"`
	Ne       any      `yaml:"ne"`
	Gt       *float64 `yaml:"gt"`
	Gte      *float64 `yaml:"gte"`
	Lt       *float64 `yaml:"lt"`
	Lte      *float64 `yaml:"lte"`
	In       []any    `yaml:"in"`
	Contains string   `yaml:"contains"`
	Exists   *bool    `yaml:"exists"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Matcher) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v any
		if err := value.Decode(&v); err != nil {
			return err
		}
		*m = Matcher{Eq: v}
		return nil
	case yaml.SequenceNode:
		var vs []any
		if err := value.Decode(&vs); err != nil {
			return err
		}
		*m = Matcher{In: vs}
		return nil
	case yaml.MappingNode:
		type plain Matcher
		return value.Decode((*plain)(m))
	default:
		return fmt.Errorf("line %d: matcher must be a scalar, list or mapping", value.Line)
	}
}

// empty reports whether no operator is set.
func (m Matcher) empty() bool {
	return m.Eq == nil && m.Ne == nil && m.Gt == nil && m.Gte == nil &&
		m.Lt == nil && m.Lte == nil && m.In == nil && m.Contains == "" && m.Exists == nil
}

// Test evaluates the matcher against r.
func (m Matcher) Test(r gjson.Result) bool {
	if m.Exists != nil {
		if r.Exists() != *m.Exists {
			return false
		}
		if !*m.Exists {
			return true
		}
	}
	if !r.Exists() {
		return false
	}

	if m.Eq != nil && !equal(r, m.Eq) {
		return false
	}
	if m.Ne != nil && equal(r, m.Ne) {
		return false
	}
	if m.In != nil {
		found := false
		for _, v := range m.In {
			if equal(r, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if m.Gt != nil || m.Gte != nil || m.Lt != nil || m.Lte != nil {
		if r.Type != gjson.Number {
			return false
		}
		n := r.Num
		if m.Gt != nil && !(n > *m.Gt) {
			return false
		}
		if m.Gte != nil && !(n >= *m.Gte) {
			return false
		}
		if m.Lt != nil && !(n < *m.Lt) {
			return false
		}
		if m.Lte != nil && !(n <= *m.Lte) {
			return false
		}
	}

	if m.Contains != "" && !contains(r, m.Contains) {
		return false
	}
	return true
}

func equal(r gjson.Result, want any) bool {
	switch w := want.(type) {
	case string:
		return r.Type == gjson.String && r.Str == w
	case bool:
		return (r.Type == gjson.True || r.Type == gjson.False) && r.Bool() == w
	case int:
		return r.Type == gjson.Number && r.Num == float64(w)
	case int64:
		return r.Type == gjson.Number && r.Num == float64(w)
	case uint64:
		return r.Type == gjson.Number && r.Num == float64(w)
	case float64:
		return r.Type == gjson.Number && r.Num == w
	default:
		return r.String() == fmt.Sprint(w)
	}
}

// contains checks substrings of strings and members of arrays.
func contains(r gjson.Result, s string) bool {
	if r.IsArray() {
		for _, item := range r.Array() {
			if item.String() == s {
				return true
			}
		}
		return false
	}
	return strings.Contains(r.String(), s)
}
