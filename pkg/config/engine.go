package config

import "time"

// EngineConfig contains orchestration engine tuning: concurrency caps,
// retry budgets, and the timeouts every suspension point must carry.
type EngineConfig struct {
	// MaxConcurrentTasks is the number of tasks this process will drive
	// at once. Tasks beyond the cap stay queued until a slot frees up.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// MaxSubtaskRetries bounds how many times the failure policy may
	// re-dispatch one phase's subtask before forcing fail_task.
	MaxSubtaskRetries int `yaml:"max_subtask_retries"`

	// SubtaskTimeout is the maximum wall-clock time for one agent
	// invocation, including its LLM and tool calls.
	SubtaskTimeout time.Duration `yaml:"-"`

	// UIResponseTimeout is how long an open UI request may stay pending
	// before the rendezvous cancels it with reason=timeout.
	UIResponseTimeout time.Duration `yaml:"-"`

	// RecoveryWindow bounds startup recovery: a non-terminal task whose
	// last event is older than this is failed with reason=recovery_timeout
	// instead of resumed.
	RecoveryWindow time.Duration `yaml:"-"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// subtasks to reach a recorded state during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"-"`
}

// engineYAML is the file-facing shape of EngineConfig: durations are
// strings ("15m", "90s") parsed with time.ParseDuration, so a config
// file never has to spell out nanosecond integers.
type engineYAML struct {
	MaxConcurrentTasks      int    `yaml:"max_concurrent_tasks"`
	MaxSubtaskRetries       int    `yaml:"max_subtask_retries"`
	SubtaskTimeout          string `yaml:"subtask_timeout"`
	UIResponseTimeout       string `yaml:"ui_response_timeout"`
	RecoveryWindow          string `yaml:"recovery_window"`
	GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxConcurrentTasks:      5,
		MaxSubtaskRetries:       3,
		SubtaskTimeout:          10 * time.Minute,
		UIResponseTimeout:       24 * time.Hour,
		RecoveryWindow:          15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
	}
}
