package storage

import "errors"

var (
	// ErrConfigWriteFailed is returned when the group configuration file cannot be persisted
	ErrConfigWriteFailed = errors.New("config write failed")

	// ErrInvalidRow is returned when a configuration row cannot be parsed
	ErrInvalidRow = errors.New("invalid configuration row")
)
