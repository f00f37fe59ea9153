package sync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Failure records one operation that did not succeed. Skipped is true
// when the operation never ran because a dependency failed first.
type Failure struct {
	Op      string `yaml:"op"`
	Err     string `yaml:"error"`
	Skipped bool   `yaml:"skipped,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	Created   int           `yaml:"created"`
	Updated   int           `yaml:"updated"`
	Reordered int           `yaml:"reordered"`
	Deleted   int           `yaml:"deleted"`
	Failed    int           `yaml:"failed"`
	Skipped   int           `yaml:"skipped"`
	Duration  time.Duration `yaml:"duration"`

	Failures  []Failure  `yaml:"failures,omitempty"`
	Conflicts []Conflict `yaml:"conflicts,omitempty"`
	Orphans   []Orphan   `yaml:"orphans,omitempty"`
}

// Clean reports whether every operation succeeded.
func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.Skipped == 0
}

// WritePlanFile writes the plan as YAML for review before a run.
func WritePlanFile(path string, plan *Plan) error {
	raw, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}
