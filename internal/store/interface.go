// Package store provides storage interfaces for build run history.
package store

import (
	"context"
	"errors"
	"time"

	v1 "github.com/kination/assetflow/api/v1"
)

var ErrRunNotFound = errors.New("build run not found")

// Store defines the interface for build run persistence.
type Store interface {
	// SaveBuildRun inserts or replaces a run by RunID
	SaveBuildRun(ctx context.Context, run *BuildRun) error
	GetBuildRun(ctx context.Context, runID string) (*BuildRun, error)
	// ListBuildRuns returns runs newest first
	ListBuildRuns(ctx context.Context, opts ListOptions) ([]*BuildRun, error)

	// Close releases resources
	Close() error
}

// ListOptions defines options for listing operations
type ListOptions struct {
	// Limit is the maximum number of items to return, 0 for all
	Limit int
	// Offset is the number of items to skip
	Offset int
	// Target filters by executed node name
	Target string
	// State filters by final run state
	State v1.TaskState
}

// BuildRun represents one execution of a graph node.
type BuildRun struct {
	// RunID is a unique identifier for this run
	RunID string `json:"runID"`
	// Target is the graph node that was executed
	Target string `json:"target"`
	// Mode is the build mode the run used
	Mode v1.Mode `json:"mode"`
	// StartTime is when the run started
	StartTime time.Time `json:"startTime"`
	// EndTime is when the run completed
	EndTime *time.Time `json:"endTime,omitempty"`
	// State is the final state of the run
	State v1.TaskState `json:"state"`
	// Message holds the failure, if any
	Message string `json:"message,omitempty"`
	// TaskRuns contains the status of each task in this run, in completion order
	TaskRuns []TaskRun `json:"taskRuns,omitempty"`
}

// TaskRun represents a task execution within a build run
type TaskRun struct {
	TaskName  string       `json:"taskName"`
	State     v1.TaskState `json:"state"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	// Outputs is the number of files the task wrote or owns
	Outputs int `json:"outputs"`
	// Problems is the number of reported checker findings
	Problems int    `json:"problems,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Copy returns a deep copy of the run.
func (r *BuildRun) Copy() *BuildRun {
	out := *r
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	out.TaskRuns = append([]TaskRun(nil), r.TaskRuns...)
	return &out
}
