// Package models defines data types for the versioned knowledge graph.
package models

import "time"

// GraphNameDefault is the only graph this instance manages.
const GraphNameDefault = "default"

// KGStatus is the lifecycle status of the graph state machine.
type KGStatus string

// Graph state machine statuses.
const (
	StatusIdle     KGStatus = "IDLE"
	StatusBuilding KGStatus = "BUILDING"
	StatusUpdating KGStatus = "UPDATING"
	StatusReady    KGStatus = "READY"
	StatusFailed   KGStatus = "FAILED"
)

// Admitting reports whether a new build task may start from this status.
func (s KGStatus) Admitting() bool {
	return s != StatusBuilding && s != StatusUpdating
}

// TaskType distinguishes full rebuilds from incremental updates.
type TaskType string

// Build task types.
const (
	TaskFullBuild         TaskType = "full_build"
	TaskIncrementalUpdate TaskType = "incremental_update"
)

// TargetStatus returns the non-admitting status a task of this type holds
// while running.
func (t TaskType) TargetStatus() KGStatus {
	if t == TaskIncrementalUpdate {
		return StatusUpdating
	}

	return StatusBuilding
}

// KGState is the singleton state row persisted in the graph database.
// latest_ready_version only ever advances to strictly greater versions.
type KGState struct {
	GraphName          string    `json:"graph_name"`
	Status             KGStatus  `json:"status"`
	LatestReadyVersion *string   `json:"latest_ready_version"`
	CurrentTaskID      *string   `json:"current_task_id"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TaskInfo is one build task record. task_id equals the version the task
// writes. Immutable once finished_at is set.
type TaskInfo struct {
	TaskID      string     `json:"task_id"`
	Type        TaskType   `json:"type"`
	Version     string     `json:"version"`
	BaseVersion *string    `json:"base_version,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Progress    *int       `json:"progress,omitempty"`
	Message     *string    `json:"message,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// CompareVersions orders version strings by length then lexically, which for
// decimal millisecond timestamps matches numeric order without overflow risk.
func CompareVersions(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}

		return 1
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
