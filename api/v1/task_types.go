package v1

import "time"

// TaskType defines the type of task
type TaskType string

const (
	TaskTypeStyles  TaskType = "Styles"
	TaskTypeScripts TaskType = "Scripts"
	TaskTypeImages  TaskType = "Images"
	TaskTypePHP     TaskType = "PHP"
	TaskTypeMarkup  TaskType = "Markup"
	TaskTypeClean   TaskType = "Clean"
)

// FailurePolicy decides what a task failure means for the graph.
type FailurePolicy string

const (
	// PolicyFatal fails the task node on any error.
	PolicyFatal FailurePolicy = "Fatal"
	// PolicyReported logs violations found by the task and lets it succeed.
	// Errors that are not violations still fail the node.
	PolicyReported FailurePolicy = "Reported"
)

// Mode selects the development or production variant of every task.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ModeFromFlag converts the --prod switch into a Mode.
func ModeFromFlag(prod bool) Mode {
	if prod {
		return ModeProduction
	}
	return ModeDevelopment
}

// IsProduction reports whether production-only steps should run.
func (m Mode) IsProduction() bool {
	return m == ModeProduction
}

// TaskSpec defines the task spec
type TaskSpec struct {
	Name string   `yaml:"name" json:"name"`
	Type TaskType `yaml:"type" json:"type"`

	// Src holds the path patterns selecting task inputs, relative to the project root.
	Src     []string `yaml:"src,omitempty" json:"src,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// Dest is the directory the task writes into.
	Dest string `yaml:"dest,omitempty" json:"dest,omitempty"`

	// Outputs lists the file extensions this task owns under Dest.
	// Two tasks may not own the same extension in overlapping directories.
	Outputs []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`

	Policy  FailurePolicy     `yaml:"policy,omitempty" json:"policy,omitempty"`
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// Option returns the named option or def when unset.
func (t *TaskSpec) Option(name, def string) string {
	if v, ok := t.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// EffectivePolicy defaults an empty policy to PolicyFatal.
func (t *TaskSpec) EffectivePolicy() FailurePolicy {
	if t.Policy == "" {
		return PolicyFatal
	}
	return t.Policy
}

// TaskState represents the current state of an individual task.
type TaskState string

const (
	StatePending   TaskState = "Pending"
	StateRunning   TaskState = "Running"
	StateCompleted TaskState = "Completed"
	StateFailed    TaskState = "Failed"
)

type TaskStatus struct {
	Name      string    `json:"name"`
	State     TaskState `json:"state"`
	Message   string    `json:"message,omitempty"`
	Outputs   []string  `json:"outputs,omitempty"`
	Problems  int       `json:"problems,omitempty"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Duration returns how long the task ran.
func (s TaskStatus) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
