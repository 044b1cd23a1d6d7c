package config

import "time"

// RunnerConfig configures the execution matrix runner.
type RunnerConfig struct {
	// Mode selects cell scheduling: concurrent, sequential, or batched.
	Mode string `env:"RUNNER_MODE" envDefault:"concurrent"`

	// Concurrency bounds the worker pool in concurrent mode.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"8"`

	// BatchSize is the number of cells per batch in batched mode.
	BatchSize int `env:"RUNNER_BATCH_SIZE" envDefault:"4"`

	// JobTimeout is the wall-clock deadline of one diagnosis job.
	JobTimeout time.Duration `env:"RUNNER_JOB_TIMEOUT" envDefault:"10m"`

	// RequestTimeout bounds a single provider HTTP call.
	RequestTimeout time.Duration `env:"RUNNER_REQUEST_TIMEOUT" envDefault:"60s"`

	// MaxRetries is the retry budget per cell on transient failures.
	MaxRetries int `env:"RUNNER_MAX_RETRIES" envDefault:"3"`

	// RetryBaseDelay is the first backoff delay; doubles per attempt.
	RetryBaseDelay time.Duration `env:"RUNNER_RETRY_BASE_DELAY" envDefault:"1s"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `env:"RUNNER_RETRY_MAX_DELAY" envDefault:"30s"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.JobTimeout < time.Second {
		r.JobTimeout = time.Second
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.RetryBaseDelay <= 0 {
		r.RetryBaseDelay = time.Second
	}
	if r.RetryMaxDelay < r.RetryBaseDelay {
		r.RetryMaxDelay = r.RetryBaseDelay
	}
}

// DeadLetterConfig configures the dead letter retention reaper.
type DeadLetterConfig struct {
	// CleanupInterval is the period between retention sweeps.
	CleanupInterval time.Duration `env:"DEAD_LETTER_CLEANUP_INTERVAL" envDefault:"1h"`

	// Retention is how long closed entries are kept before deletion.
	Retention time.Duration `env:"DEAD_LETTER_RETENTION" envDefault:"720h"`
}

// Sanitize applies guardrails to dead letter configuration values.
func (d *DeadLetterConfig) Sanitize() {
	if d.CleanupInterval < time.Minute {
		d.CleanupInterval = time.Minute
	}
	if d.Retention < time.Hour {
		d.Retention = time.Hour
	}
}
