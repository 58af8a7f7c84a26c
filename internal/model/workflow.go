// Package model defines the persistent and in-memory entities that flow through the
// compiler, engine, orchestrator, and broadcaster.
package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle state of a persisted workflow.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowPaused   WorkflowStatus = "paused"
	WorkflowArchived WorkflowStatus = "archived"
)

// CanTransitionTo enforces the monotone-forward rule, with archived->active forbidden.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	if s == next {
		return true
	}
	order := map[WorkflowStatus]int{
		WorkflowDraft:    0,
		WorkflowActive:   1,
		WorkflowPaused:   2,
		WorkflowArchived: 3,
	}
	cur, okCur := order[s]
	tgt, okTgt := order[next]
	if !okCur || !okTgt {
		return false
	}
	if s == WorkflowArchived && next == WorkflowActive {
		return false
	}
	return tgt >= cur || next == WorkflowActive
}

// Node is one vertex of a workflow graph.
type Node struct {
	ID   string     `json:"id"`
	Type string     `json:"type"`
	Data NodeData   `json:"data"`
}

// NodeData carries the display label and the opaque handler config.
type NodeData struct {
	Label  string                 `json:"label"`
	Config map[string]interface{} `json:"config"`
}

// Edge connects a source node's output handle to a target node's input handle.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
}

// NormalizedSourceHandle returns "output" when SourceHandle is unset, matching the
// default single-exit convention used by non-branching node types.
func (e Edge) NormalizedSourceHandle() string {
	if e.SourceHandle == "" {
		return "output"
	}
	return e.SourceHandle
}

// WorkflowSettings holds graph-wide defaults such as the node timeout fallback.
type WorkflowSettings struct {
	NodeTimeoutSeconds int `json:"node_timeout,omitempty"`
}

// WorkflowCounters tracks aggregate run statistics surfaced to the owner.
type WorkflowCounters struct {
	TotalRuns        int64   `json:"totalRuns"`
	SuccessfulRuns   int64   `json:"successfulRuns"`
	AverageDurationMs float64 `json:"averageDurationMs"`
}

// Workflow is the persisted graph definition, uniquely identified by (Owner, Name).
type Workflow struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	Owner     string           `json:"owner" db:"owner"`
	Name      string           `json:"name" db:"name"`
	Slug      string           `json:"slug" db:"slug"`
	Nodes     []Node           `json:"nodes" db:"nodes"`
	Edges     []Edge           `json:"edges" db:"edges"`
	Settings  WorkflowSettings `json:"settings" db:"settings"`
	Status    WorkflowStatus   `json:"status" db:"status"`
	Counters  WorkflowCounters `json:"counters" db:"counters"`
	Version   int              `json:"version" db:"version"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time        `json:"updatedAt" db:"updated_at"`
}

// WorkflowVersion is an immutable snapshot of a workflow's graph at compile time,
// unique on (WorkflowID, VersionNumber).
type WorkflowVersion struct {
	ID            uuid.UUID `db:"id"`
	WorkflowID    uuid.UUID `db:"workflow_id"`
	VersionNumber int       `db:"version_number"`
	Nodes         []Node    `db:"nodes"`
	Edges         []Edge    `db:"edges"`
	CreatedAt     time.Time `db:"created_at"`
}

// WorkflowTag is a named pointer at one of a workflow's versions (e.g. "main",
// "exp/quality"), letting callers address a version by a stable name instead
// of tracking version numbers themselves.
type WorkflowTag struct {
	WorkflowID    uuid.UUID `json:"workflowId" db:"workflow_id"`
	Name          string    `json:"name" db:"name"`
	VersionNumber int       `json:"versionNumber" db:"version_number"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}
