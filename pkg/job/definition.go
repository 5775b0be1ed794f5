// Package job builds the executable representation of one test job
// from a YAML definition, a device dictionary and optional dispatcher
// and environment overlays.
package job

import (
	"fmt"
	"time"
)

// Definition is the declarative job input submitted by the scheduler.
type Definition struct {
	JobName    string   `yaml:"job_name"`
	Priority   string   `yaml:"priority,omitempty"`
	Visibility string   `yaml:"visibility,omitempty"`
	Timeouts   Timeouts `yaml:"timeouts,omitempty"`
	Actions    []Action `yaml:"actions"`
}

// Timeouts holds the job-wide and default per-action budgets.
type Timeouts struct {
	Job    Timeout `yaml:"job,omitempty"`
	Action Timeout `yaml:"action,omitempty"`
}

// Timeout is the minutes/seconds form used throughout job definitions.
type Timeout struct {
	Minutes int `yaml:"minutes,omitempty"`
	Seconds int `yaml:"seconds,omitempty"`
}

// Duration converts the timeout to a time.Duration. Zero means unset.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t.Minutes)*time.Minute + time.Duration(t.Seconds)*time.Second
}

// Action is one entry of the ordered action list. Exactly one of the
// kind fields is set per entry; the YAML form is a single-key mapping
// such as `- deploy: {...}`.
type Action struct {
	Deploy *DeployAction `yaml:"deploy,omitempty"`
	Boot   *BootAction   `yaml:"boot,omitempty"`
	Test   *TestAction   `yaml:"test,omitempty"`
}

// Kind reports the action kind, or an error when the entry does not
// carry exactly one kind.
func (a Action) Kind() (string, error) {
	var kinds []string
	if a.Deploy != nil {
		kinds = append(kinds, "deploy")
	}
	if a.Boot != nil {
		kinds = append(kinds, "boot")
	}
	if a.Test != nil {
		kinds = append(kinds, "test")
	}
	switch len(kinds) {
	case 1:
		return kinds[0], nil
	case 0:
		return "", fmt.Errorf("action carries no recognized kind")
	default:
		return "", fmt.Errorf("action carries multiple kinds: %v", kinds)
	}
}

// DeployAction stages images or overlays onto the device.
type DeployAction struct {
	To      string         `yaml:"to"`
	Images  map[string]any `yaml:"images,omitempty"`
	Timeout Timeout        `yaml:"timeout,omitempty"`
}

// BootAction brings the device up using a named method.
type BootAction struct {
	Method  string   `yaml:"method"`
	Prompts []string `yaml:"prompts,omitempty"`
	Timeout Timeout  `yaml:"timeout,omitempty"`
}

// TestAction runs test content on the booted device. Steps are inline
// shell commands; Definitions reference external test repositories.
type TestAction struct {
	Steps       []string         `yaml:"steps,omitempty"`
	Definitions []TestDefinition `yaml:"definitions,omitempty"`
	Timeout     Timeout          `yaml:"timeout,omitempty"`
}

// TestDefinition points at an externally hosted test suite.
type TestDefinition struct {
	Repository string `yaml:"repository"`
	From       string `yaml:"from,omitempty"`
	Path       string `yaml:"path,omitempty"`
	Name       string `yaml:"name,omitempty"`
}
