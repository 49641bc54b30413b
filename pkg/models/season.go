package models

import "time"

// RunMode separates rehearsal runs from runs whose data is kept.
type RunMode string

const (
	RunModeTest RunMode = "test"
	RunModeReal RunMode = "real"
)

// RunClass is the declared shape of a run.
type RunClass string

const (
	RunClassStandard72h        RunClass = "standard_72h"
	RunClassDeep96h            RunClass = "deep_96h"
	RunClassSpecialExploratory RunClass = "special_exploratory"
)

// ValidRunClass reports whether s names a known run class.
func ValidRunClass(s string) bool {
	switch RunClass(s) {
	case RunClassStandard72h, RunClassDeep96h, RunClassSpecialExploratory:
		return true
	}
	return false
}

// SimulationRun is the registry row for one run of the simulation.
// MirrorControlRunID links a run to its control twin; it is metadata only
// and never changes behavior.
type SimulationRun struct {
	RunID                 string     `json:"run_id"`
	RunMode               RunMode    `json:"run_mode"`
	RunClass              RunClass   `json:"run_class"`
	ProtocolVersion       string     `json:"protocol_version"`
	SeasonID              *string    `json:"season_id,omitempty"`
	SeasonNumber          *int       `json:"season_number,omitempty"`
	TransferPolicyVersion *string    `json:"transfer_policy_version,omitempty"`
	CarryoverAgentCount   int        `json:"carryover_agent_count"`
	FreshAgentCount       int        `json:"fresh_agent_count"`
	ProtocolDeviation     *string    `json:"protocol_deviation,omitempty"`
	MirrorControlRunID    *string    `json:"mirror_control_run_id,omitempty"`
	StartedAt             time.Time  `json:"started_at"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
}

// SnapshotTypeSurvivorsV1 is the only snapshot payload version currently
// written. Readers reject unknown types.
const SnapshotTypeSurvivorsV1 = "survivors_v1"

// SeasonSnapshot is one exported population snapshot for a run. The
// (run_id, snapshot_type) pair is unique and run_id must reference a
// registered run.
type SeasonSnapshot struct {
	ID           int64           `json:"id"`
	RunID        string          `json:"run_id"`
	SnapshotType string          `json:"snapshot_type"`
	Payload      SurvivorPayload `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SurvivorPayload is the survivors_v1 snapshot body.
type SurvivorPayload struct {
	SnapshotType string           `json:"snapshot_type"`
	RunID        string           `json:"run_id"`
	ExportedAt   time.Time        `json:"exported_at"`
	Survivors    []SurvivorRecord `json:"survivors"`
}

// SurvivorRecord captures what carries across a season boundary for one
// agent: identity, temperament, and holdings. Memories do not carry.
type SurvivorRecord struct {
	AgentNumber     int            `json:"agent_number"`
	DisplayName     string         `json:"display_name"`
	ModelType       string         `json:"model_type"`
	Tier            string         `json:"tier"`
	PersonalityType string         `json:"personality_type"`
	Inventory       map[string]int `json:"inventory"`
}

// LineageOrigin records how an agent entered a season.
type LineageOrigin string

const (
	LineageCarryover LineageOrigin = "carryover"
	LineageFresh     LineageOrigin = "fresh"
)

// AgentLineage is one (season, child) ancestry row; unique per pair.
// ParentAgentNumber is nil for fresh spawns.
type AgentLineage struct {
	ID                int64         `json:"id"`
	SeasonID          string        `json:"season_id"`
	ChildAgentNumber  int           `json:"child_agent_number"`
	ParentAgentNumber *int          `json:"parent_agent_number,omitempty"`
	Origin            LineageOrigin `json:"origin"`
	CreatedAt         time.Time     `json:"created_at"`
}

// RunReportArtifact registers one exported report pair on disk.
type RunReportArtifact struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	ArtifactType string    `json:"artifact_type"`
	PathJSON     string    `json:"path_json"`
	PathMarkdown string    `json:"path_markdown"`
	CreatedAt    time.Time `json:"created_at"`
}

// EpochChampion is one ranked tournament selection.
type EpochChampion struct {
	EpochID     string  `json:"epoch_id"`
	SeasonID    string  `json:"season_id"`
	AgentNumber int     `json:"agent_number"`
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
	Rank        int     `json:"rank"`
}
