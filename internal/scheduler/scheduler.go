package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/t77yq/groupsummary/internal/model"
)

// Registrar defines the interface for installing jobs into the host scheduler
type Registrar interface {
	// Create installs spec, replacing any job with the same name
	Create(ctx context.Context, spec model.ScheduleSpec) error

	// Delete removes a job; a job that does not exist is not an error
	Delete(ctx context.Context, jobName string) error

	// List returns the native scheduler listing verbatim
	List(ctx context.Context) (string, error)

	// Exists reports whether a native job with the name is installed
	Exists(ctx context.Context, jobName string) (bool, error)

	// Platform returns the scheduler family in use
	Platform() Platform
}

// Backend is one native scheduler implementation
type Backend interface {
	Platform() Platform

	// Describe builds the descriptor for spec without touching the host
	Describe(spec model.ScheduleSpec, inv Invocation, now time.Time) (*Descriptor, error)

	// Install registers a descriptor with the native scheduler
	Install(ctx context.Context, d *Descriptor) error

	// Remove deletes a native job; returns ErrJobNotFound when absent
	Remove(ctx context.Context, jobName string) error

	// Enumerate returns the raw native listing
	Enumerate(ctx context.Context) (string, error)

	// Exists reports whether a job with the name is installed
	Exists(ctx context.Context, jobName string) (bool, error)
}

// Platform identifies a native scheduler family
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformCron    Platform = "cron"
	PlatformLaunchd Platform = "launchd"
)

// DetectPlatform maps a GOOS value to its scheduler family
func DetectPlatform(goos string) (Platform, error) {
	switch goos {
	case "windows":
		return PlatformWindows, nil
	case "linux":
		return PlatformCron, nil
	case "darwin":
		return PlatformLaunchd, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}
