package rules

import (
	"strconv"
	"strings"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/script"
)

// Validate checks a parsed file and returns a *ValidationError listing
// every problem, or nil.
func Validate(f *File) error {
	errs := &ValidationError{}
	if len(f.Rules) == 0 {
		errs.add(f.Path, "", "no rules defined")
	}

	names := make(map[string]bool, len(f.Rules))
	for i, r := range f.Rules {
		name := r.Name
		if name == "" {
			errs.add(f.Path, "", "rule %d has no name", i+1)
			name = "#" + strconv.Itoa(i+1)
		} else if names[name] {
			errs.add(f.Path, name, "duplicate rule name")
		}
		names[name] = true

		validateWhen(errs, f.Path, name, r.When)

		if len(r.Then) == 0 {
			errs.add(f.Path, name, "no actions")
		}
		for j, a := range r.Then {
			validateAction(errs, f.Path, name, j+1, a)
		}
	}
	return errs.orNil()
}

func validateWhen(errs *ValidationError, file, rule string, w When) {
	for _, t := range w.Types {
		if t == "" {
			errs.add(file, rule, "when.types contains an empty type")
		}
	}
	for _, p := range w.Priorities {
		if _, err := event.ParsePriority(p); err != nil {
			errs.add(file, rule, "when.priorities: %v", err)
		}
	}
	for _, s := range w.Scopes {
		if _, err := event.ParseScope(s); err != nil {
			errs.add(file, rule, "when.scopes: %v", err)
		}
	}
	for path, m := range w.Match {
		if !validPath(path) {
			errs.add(file, rule, "when.match: invalid path %q", path)
		}
		if m.empty() {
			errs.add(file, rule, "when.match %q: no operator", path)
		}
	}
	if w.Lua != "" {
		c, err := script.CompileCondition(w.Lua, script.WithName(rule))
		if err != nil {
			errs.add(file, rule, "when.lua: %v", err)
		} else {
			_ = c.Close()
		}
	}
}

func validateAction(errs *ValidationError, file, rule string, n int, a Action) {
	set := 0
	if a.Publish != nil {
		set++
	}
	if a.Lua != "" {
		set++
	}
	if a.Log != "" {
		set++
	}
	if set != 1 {
		errs.add(file, rule, "then[%d]: exactly one of publish, lua, log is required", n)
		return
	}

	switch {
	case a.Publish != nil:
		p := a.Publish
		if p.Type == "" {
			errs.add(file, rule, "then[%d].publish: type is required", n)
		}
		if p.Priority != "" {
			if _, err := event.ParsePriority(p.Priority); err != nil {
				errs.add(file, rule, "then[%d].publish.priority: %v", n, err)
			}
		}
		if p.Scope != "" {
			if _, err := event.ParseScope(p.Scope); err != nil {
				errs.add(file, rule, "then[%d].publish.scope: %v", n, err)
			}
		}
		if len(p.Copy) > 0 {
			if p.Payload != nil {
				if _, ok := p.Payload.(map[string]any); !ok {
					errs.add(file, rule, "then[%d].publish: copy needs a mapping payload", n)
				}
			}
			for dst, src := range p.Copy {
				if dst == "" {
					errs.add(file, rule, "then[%d].publish.copy: empty destination", n)
				}
				if !validPath(src) {
					errs.add(file, rule, "then[%d].publish.copy: invalid source path %q", n, src)
				}
			}
		}
	case a.Lua != "":
		if _, err := script.Compile(rule, a.Lua); err != nil {
			errs.add(file, rule, "then[%d].lua: %v", n, err)
		}
	}
}

// validPath rejects empty paths and unbalanced gjson query brackets.
func validPath(p string) bool {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, ".") || strings.HasSuffix(p, ".") {
		return false
	}
	return strings.Count(p, "(") == strings.Count(p, ")") &&
		strings.Count(p, "[") == strings.Count(p, "]")
}
