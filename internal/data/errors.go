package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Diagnosis repository sentinels.
	ErrDiagnosisNotFound      = errors.New("diagnosis not found")
	ErrDiagnosisAlreadyExists = errors.New("diagnosis already exists")

	// Dead letter repository sentinels.
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")
	ErrDeadLetterNotOpen  = errors.New("dead letter entry is not open")

	// Result repository sentinels.
	ErrExecutionIDRequired = errors.New("execution_id is required")
)
