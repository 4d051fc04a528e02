package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// Target is the part of the bus rule files need.
type Target interface {
	event.Publisher
	AddRule(r event.Rule) (string, error)
	RemoveRule(id string) bool
}

type installed struct {
	ids   []string
	rules []*Compiled
}

// Installer keeps the rules of each loaded file registered on a bus.
// Installing a file again replaces its previous rules.
type Installer struct {
	target Target
	logger *logging.Logger

	mu    sync.Mutex
	files map[string]*installed
}

// NewInstaller creates an installer for target.
func NewInstaller(target Target, logger *logging.Logger) *Installer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Installer{
		target: target,
		logger: logger.WithComponent("rules"),
		files:  make(map[string]*installed),
	}
}

// Install loads, validates and registers the rules in path. On failure the
// file's previously installed rules stay in place.
func (in *Installer) Install(path string) ([]string, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return in.InstallFile(f)
}

// InstallFile registers the rules of an already parsed file.
func (in *Installer) InstallFile(f *File) ([]string, error) {
	compiled, err := Compile(f, in.target, in.logger)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	next := &installed{rules: compiled}
	for _, c := range compiled {
		id, err := in.target.AddRule(c.Rule)
		if err != nil {
			for _, added := range next.ids {
				in.target.RemoveRule(added)
			}
			for _, c := range compiled {
				_ = c.Close()
			}
			return nil, fmt.Errorf("installing %s rule %q: %w", f.Path, c.Rule.Name, err)
		}
		next.ids = append(next.ids, id)
	}

	if prev := in.files[f.Path]; prev != nil {
		in.release(prev)
	}
	in.files[f.Path] = next
	in.logger.Info("installed %d rules from %s", len(next.ids), f.Path)
	return next.ids, nil
}

// InstallAll expands paths and installs every file. Every file is
// attempted; problems are collected into one error.
func (in *Installer) InstallAll(paths []string) error {
	files, err := Expand(paths)
	if err != nil {
		return err
	}

	errs := &ValidationError{}
	for _, file := range files {
		if _, err := in.Install(file); err != nil {
			in.logger.Error("rule file %s: %v", file, err)
			if !errs.merge(err) {
				errs.add(file, "", "%v", err)
			}
		}
	}
	return errs.orNil()
}

// Uninstall removes every rule that came from path.
func (in *Installer) Uninstall(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	prev, ok := in.files[path]
	if !ok {
		return false
	}
	in.release(prev)
	delete(in.files, path)
	in.logger.Info("removed rules from %s", path)
	return true
}

// Files lists the installed files, sorted.
func (in *Installer) Files() []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	files := make([]string, 0, len(in.files))
	for f := range in.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// RuleIDs returns the bus rule IDs installed from path.
func (in *Installer) RuleIDs(path string) []string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if inst, ok := in.files[path]; ok {
		return append([]string(nil), inst.ids...)
	}
	return nil
}

// Close uninstalls everything.
func (in *Installer) Close(_ context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	for path, inst := range in.files {
		in.release(inst)
		delete(in.files, path)
	}
	return nil
}

// release must be called with mu held.
func (in *Installer) release(inst *installed) {
	for _, id := range inst.ids {
		in.target.RemoveRule(id)
	}
	for _, c := range inst.rules {
		_ = c.Close()
	}
}

// ValidateFiles parses and validates files without installing them.
func ValidateFiles(paths []string) error {
	files, err := Expand(paths)
	if err != nil {
		return err
	}
	errs := &ValidationError{}
	for _, path := range files {
		f, err := LoadFile(path)
		if err != nil {
			errs.add(path, "", "%v", err)
			continue
		}
		errs.merge(Validate(f))
	}
	return errs.orNil()
}
