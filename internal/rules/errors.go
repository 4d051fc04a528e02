package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse is returned when a rule file is not valid YAML for the schema.
	ErrParse = errors.New("rule file parse error")

	// ErrInvalid is wrapped by every *ValidationError.
	ErrInvalid = errors.New("invalid rule file")
)

// Problem is one validation finding.
type Problem struct {
	File    string
	Rule    string
	Message string
}

func (p Problem) String() string {
	switch {
	case p.Rule != "":
		return fmt.Sprintf("%s: rule %q: %s", p.File, p.Rule, p.Message)
	case p.File != "":
		return fmt.Sprintf("%s: %s", p.File, p.Message)
	default:
		return p.Message
	}
}

// ValidationError lists every problem found in one or more rule files.
type ValidationError struct {
	Problems []Problem
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].String()
	}
	lines := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		lines = append(lines, p.String())
	}
	return fmt.Sprintf("%d rule problems:\n  - %s", len(e.Problems), strings.Join(lines, "\n  - "))
}

// Unwrap makes errors.Is(err, ErrInvalid) hold.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func (e *ValidationError) add(file, rule, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{File: file, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// merge appends the problems of other when it is a *ValidationError.
func (e *ValidationError) merge(other error) bool {
	var verr *ValidationError
	if !errors.As(other, &verr) {
		return false
	}
	e.Problems = append(e.Problems, verr.Problems...)
	return true
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
