package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is one parsed rule file.
//
//	rules:
//	  - name: retry-failed-payments
//	    priority: 10
//	    when:
//	      types: [PAYMENT_FAILED]
//	      match:
//	        payload.amount: {gt: 0}
//	    then:
//	      - publish:
//	          type: PAYMENT_RETRY_SCHEDULED
//	          payload: {attempt: 1}
//	          copy: {orderId: payload.orderId}
type File struct {
	// Path is where the file was read from. Not part of the YAML document.
	Path string `yaml:"-"`

	Rules []Spec `yaml:"rules"`
}

// Spec declares one rule.
type Spec struct {
	Name     string   `yaml:"name"`
	Priority int      `yaml:"priority"`
	Enabled  *bool    `yaml:"enabled"`
	When     When     `yaml:"when"`
	Then     []Action `yaml:"then"`
}

// IsEnabled reports the enabled flag, which defaults to true.
func (s Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// When is the rule condition. Every non-empty clause must hold.
type When struct {
	Types      []string `yaml:"types"`
	Sources    []string `yaml:"sources"`
	Priorities []string `yaml:"priorities"`
	Scopes     []string `yaml:"scopes"`

	// Match maps gjson paths on the event envelope to matchers.
	// The envelope is {"type": ..., "payload": ..., "metadata": {...}}.
	Match map[string]Matcher `yaml:"match"`

	// Lua is a boolean expression with the event bound to "event".
	Lua string `yaml:"lua"`
}

// Action is one entry of a rule's "then" list. Exactly one field is set.
type Action struct {
	Publish *PublishAction `yaml:"publish"`
	Lua     string         `yaml:"lua"`
	Log     string         `yaml:"log"`
}

// PublishAction publishes a derived event.
type PublishAction struct {
	Type     string `yaml:"type"`
	Payload  any    `yaml:"payload"`
	Source   string `yaml:"source"`
	Priority string `yaml:"priority"`
	Scope    string `yaml:"scope"`

	// Copy maps sjson destination paths in the new payload to gjson source
	// paths on the trigger's envelope.
	Copy map[string]string `yaml:"copy"`

	// Correlate propagates the trigger's correlation ID (or its ID) and its
	// branch, business, session and user IDs. Defaults to true.
	Correlate *bool `yaml:"correlate"`
}

// correlates reports the correlate flag, which defaults to true.
func (p *PublishAction) correlates() bool {
	return p.Correlate == nil || *p.Correlate
}

// Parse decodes a rule file. Unknown fields are errors.
func Parse(name string, data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	f := &File{Path: name}
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}
	return f, nil
}

// LoadFile reads and parses a rule file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}
	return Parse(path, data)
}

// IsRuleFile reports whether path has a YAML extension.
func IsRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Expand resolves files and directories into a sorted, de-duplicated list
// of rule files. Directories contribute their *.yaml and *.yml entries,
// non-recursively.
func Expand(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("rule path %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("rule directory %s: %w", p, err)
		}
		for _, e := range entries {
			if !e.IsDir() && IsRuleFile(e.Name()) {
				add(filepath.Join(p, e.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}
