package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", history is discarded.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome values of a RunRecord.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeRetired = "retired"
)

// RunRecord is one task execution. Keep it compact and schema-stable.
type RunRecord struct {
	Seq      int64         `json:"seq,omitempty"`
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Owner    string        `json:"owner,omitempty"`
	Domain   string        `json:"domain"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Runs     uint64        `json:"runs"`
	Failures int           `json:"consecutive_failures,omitempty"`
}
