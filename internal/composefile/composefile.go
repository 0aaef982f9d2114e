// Package composefile loads task definitions from a YAML file.
//
//	tasks:
//	  clean: rm -rf dist
//	  build:
//	    deps: [clean, {name: gen, run: "go generate ./..."}]
//	    run: go build ./...
//	  default: [build]
//	watch:
//	  - pattern: "**/*.go"
//	    tasks: [build]
package composefile

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/composer/internal/flow"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// File is a parsed composefile.
type File struct {
	URL   string     `yaml:"-"`
	Tasks Tasks      `yaml:"tasks"`
	Watch []WatchDef `yaml:"watch,omitempty"`
}

// TaskDef defines one task. A task is either registered under its key in
// the tasks mapping or defined inline as a dependency.
type TaskDef struct {
	Name    string         `yaml:"name,omitempty"`
	Desc    string         `yaml:"desc,omitempty"`
	Deps    []DepDef       `yaml:"deps,omitempty"`
	Flow    string         `yaml:"flow,omitempty"`
	Run     string         `yaml:"run,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// DepDef is a dependency: a task name or an inline definition.
type DepDef struct {
	Name string
	Task *TaskDef
}

// WatchDef re-runs tasks when files matching Pattern change.
type WatchDef struct {
	Pattern string   `yaml:"pattern"`
	Tasks   []string `yaml:"tasks"`
	Flow    string   `yaml:"flow,omitempty"`
}

// Tasks keeps task definitions in file order.
type Tasks []*TaskDef

// Get returns the task defined under name.
func (t Tasks) Get(name string) (*TaskDef, bool) {
	for _, def := range t {
		if def.Name == name {
			return def, true
		}
	}
	return nil, false
}

// UnmarshalYAML decodes the tasks mapping. Besides a full mapping, a task
// value may be a string (the command to run) or a sequence (its
// dependencies), and may be empty.
func (t *Tasks) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: tasks must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		def, err := decodeTask(value)
		if err != nil {
			return fmt.Errorf("task %q: %w", key.Value, err)
		}
		def.Name = key.Value
		*t = append(*t, def)
	}
	return nil
}

func decodeTask(node *yaml.Node) (*TaskDef, error) {
	def := &TaskDef{}
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return def, nil
		}
		def.Run = node.Value
	case yaml.SequenceNode:
		if err := node.Decode(&def.Deps); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		if err := node.Decode(def); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("line %d: unsupported task definition", node.Line)
	}
	return def, nil
}

// UnmarshalYAML accepts either a scalar task name or an inline mapping.
func (d *DepDef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		d.Name = node.Value
		return nil
	case yaml.MappingNode:
		var def TaskDef
		if err := node.Decode(&def); err != nil {
			return err
		}
		d.Task = &def
		return nil
	}
	return fmt.Errorf("line %d: dependency must be a name or a task definition", node.Line)
}

// MarshalYAML writes a name dependency back as a scalar.
func (d DepDef) MarshalYAML() (any, error) {
	if d.Task != nil {
		return d.Task, nil
	}
	return d.Name, nil
}

// Parse decodes a composefile.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing composefile: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load downloads and parses the composefile at URL. Plain paths, file://
// and any other scheme registered with afs are accepted.
func Load(ctx context.Context, URL string) (*File, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load composefile from %s: %w", URL, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", URL, err)
	}
	f.URL = URL
	return f, nil
}

// Validate checks the file's structure: names are present and unique,
// flows are known and watches name tasks defined in the file.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(f.Tasks))
	for _, def := range f.Tasks {
		if def.Name == "" {
			errs = append(errs, errors.New("task with empty name"))
			continue
		}
		if seen[def.Name] {
			errs = append(errs, fmt.Errorf("task %q defined more than once", def.Name))
		}
		seen[def.Name] = true
		errs = append(errs, validateTask(def, def.Name)...)
	}
	for i, w := range f.Watch {
		if w.Pattern == "" {
			errs = append(errs, fmt.Errorf("watch[%d]: pattern is required", i))
		}
		if len(w.Tasks) == 0 {
			errs = append(errs, fmt.Errorf("watch[%d]: at least one task is required", i))
		}
		for _, name := range w.Tasks {
			if !seen[name] {
				errs = append(errs, fmt.Errorf("watch[%d]: unknown task %q", i, name))
			}
		}
		if _, err := flow.ParsePolicy(w.Flow); err != nil {
			errs = append(errs, fmt.Errorf("watch[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func validateTask(def *TaskDef, path string) []error {
	var errs []error
	if _, err := flow.ParsePolicy(def.Flow); err != nil {
		errs = append(errs, fmt.Errorf("task %q: %w", path, err))
	}
	for i, dep := range def.Deps {
		switch {
		case dep.Task != nil:
			errs = append(errs, validateTask(dep.Task, fmt.Sprintf("%s.deps[%d]", path, i))...)
		case dep.Name == "":
			errs = append(errs, fmt.Errorf("task %q: deps[%d] is empty", path, i))
		}
	}
	return errs
}
