package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cliq-dev/cliq/internal/task"
)

// Manifest describes one job: a named master task and its ordered child
// tasks.
type Manifest struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec describes one child task. Each command is an argv vector:
// program plus arguments.
type TaskSpec struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Optional bool       `yaml:"optional"`
	Commands [][]string `yaml:"commands"`
}

// Load reads a YAML manifest from path. If path is empty, it resolves
// $XDG_CONFIG_HOME/cliq/manifest.yaml or ~/.config/cliq/manifest.yaml.
func Load(path string) (*Manifest, error) {
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		path = filepath.Join(base, "cliq", "manifest.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(content)
}

// Parse decodes and validates a YAML manifest.
func Parse(content []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest is executable.
func (m *Manifest) Validate() error {
	if len(m.Tasks) == 0 {
		return fmt.Errorf("manifest has no tasks")
	}
	seen := make(map[string]bool)
	for i, t := range m.Tasks {
		if t.ID != "" {
			if seen[t.ID] {
				return fmt.Errorf("duplicate task id: %v", t.ID)
			}
			seen[t.ID] = true
		}
		for j, cmd := range t.Commands {
			if len(cmd) == 0 || cmd[0] == "" {
				return fmt.Errorf("task %d command %d has no program", i, j)
			}
		}
	}
	return nil
}

// Master builds the master task the manifest describes.
func (m *Manifest) Master() *task.Master {
	tasks := make([]*task.Task, 0, len(m.Tasks))
	for _, ts := range m.Tasks {
		t := task.NewTask(ts.ID, ts.Name, ts.Commands)
		t.Optional = ts.Optional
		tasks = append(tasks, t)
	}
	return task.NewMaster(m.ID, m.Name, tasks...)
}
