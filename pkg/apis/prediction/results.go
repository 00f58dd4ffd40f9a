/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package prediction

import "time"

// Status reports the outcome of an operation across the API boundary.
// Operations return these instead of raising except for unrecoverable
// configuration and auth errors.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusFailure            Status = "failure"
	StatusNoData             Status = "no_data"
	StatusWriteFailed        Status = "write_failed"
	StatusDuplicatesDetected Status = "duplicates_detected"
)

// StagingWriteResult reports one worker's staging write.
type StagingWriteResult struct {
	Status           Status
	StagingTableName string
	RowsWritten      int
	// InsufficientData is set when the feature store had nothing for the
	// date; the batch continues without this player.
	InsufficientData bool
}

// ConsolidationResult reports one consolidation pass for a batch.
type ConsolidationResult struct {
	Status               Status
	BatchID              string
	GameDate             GameDate
	RowsAffected         int64
	StagingTablesMerged  int
	StagingTablesCleaned int
	DuplicateCount       int
	// LockAcquired is false on the degraded lock-free fallback path.
	LockAcquired bool
}

// Success reports whether the pass completed cleanly.
func (r *ConsolidationResult) Success() bool { return r.Status == StatusSuccess }

// GradingResult reports one grading pass for a date.
type GradingResult struct {
	Status                 Status
	GameDate               GameDate
	PredictionsFound       int
	ActualsFound           int
	Graded                 int
	MAE                    float64
	Bias                   float64
	RecommendationAccuracy float64
	NetAccuracy            float64
	VoidedCount            int
	VoidedByReason         map[VoidReason]int
	DuplicateCount         int
}

// GapReport is one date flagged by the gap detector.
type GapReport struct {
	GameDate   GameDate
	Gradable   int
	Graded     int
	// GradingPct is coverage as a percentage, 0-100.
	GradingPct float64
	Status     string
}

// BatchResult reports one StartBatch run.
type BatchResult struct {
	Status            Status
	BatchID           string
	GameDate          GameDate
	Mode              BatchMode
	PlayersRequested  int
	PlayersPredicted  int
	PlayersFailed     int
	Consolidation     *ConsolidationResult
}

// HealingEvent is an immutable audit record of one self-healing action.
type HealingEvent struct {
	ID            string
	Timestamp     time.Time
	Type          string
	TriggerReason string
	ActionTaken   string
	// BeforeState and AfterState are hashstructure fingerprints of the
	// affected entity around the action.
	BeforeState uint64
	AfterState  uint64
	Success     bool
	Metadata    map[string]string
}

// Healing event types recorded by the core.
const (
	HealingTypeBackfill      = "grading_backfill"
	HealingTypeForceComplete = "batch_force_complete"
	HealingTypeOrphanSweep   = "staging_orphan_sweep"
)

// AlertLevel grades healing-pattern severity.
type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertYellow   AlertLevel = "yellow"
	AlertRed      AlertLevel = "red"
	AlertCritical AlertLevel = "critical"
)
