package models

import "time"

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalStatusActive  ProposalStatus = "active"
	ProposalStatusPassed  ProposalStatus = "passed"
	ProposalStatusFailed  ProposalStatus = "failed"
	ProposalStatusExpired ProposalStatus = "expired"
)

// ProposalType distinguishes law-making proposals from repeals.
type ProposalType string

const (
	ProposalTypeLaw    ProposalType = "law"
	ProposalTypeRepeal ProposalType = "repeal"
)

// Proposal is a motion put to the population. Voting closes at
// VotingClosesAt; the scheduler is the only writer of terminal statuses.
type Proposal struct {
	ID                int64          `json:"id"`
	AuthorAgentNumber int            `json:"author_agent_number"`
	ProposalType      ProposalType   `json:"proposal_type"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	TargetLawID       *int64         `json:"target_law_id,omitempty"` // set for repeals
	Status            ProposalStatus `json:"status"`
	VotingClosesAt    time.Time      `json:"voting_closes_at"`
	YesCount          int            `json:"yes_count"`
	NoCount           int            `json:"no_count"`
	CreatedAt         time.Time      `json:"created_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

// VoteChoice is a proposal vote value.
type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

// Vote is one agent's vote on one proposal. The (proposal, agent) pair is
// unique; the first recorded vote is authoritative.
type Vote struct {
	ProposalID  int64      `json:"proposal_id"`
	AgentNumber int        `json:"agent_number"`
	Choice      VoteChoice `json:"choice"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Law is a passed proposal in force until repealed.
type Law struct {
	ID                  int64      `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	AuthorAgentNumber   int        `json:"author_agent_number"`
	ProposalID          int64      `json:"proposal_id"`
	Active              bool       `json:"active"`
	PassedAt            time.Time  `json:"passed_at"`
	RepealedAt          *time.Time `json:"repealed_at,omitempty"`
	RepealedByProposal  *int64     `json:"repealed_by_proposal_id,omitempty"`
	CarriedFromSeasonID *string    `json:"carried_from_season_id,omitempty"`
}

// EnforcementType is the penalty an enforcement motion seeks.
type EnforcementType string

const (
	EnforcementSanction EnforcementType = "sanction"
	EnforcementSeizure  EnforcementType = "seizure"
	EnforcementExile    EnforcementType = "exile"
)

// EnforcementStatus is the lifecycle of an enforcement motion:
// pending -> approved -> executed, or pending -> rejected / contested.
type EnforcementStatus string

const (
	EnforcementStatusPending   EnforcementStatus = "pending"
	EnforcementStatusApproved  EnforcementStatus = "approved"
	EnforcementStatusRejected  EnforcementStatus = "rejected"
	EnforcementStatusExecuted  EnforcementStatus = "executed"
	EnforcementStatusContested EnforcementStatus = "contested"
)

// Enforcement is a motion to penalize an agent under an active law.
type Enforcement struct {
	ID                    int64             `json:"id"`
	InitiatorAgentNumber  int               `json:"initiator_agent_number"`
	TargetAgentNumber     int               `json:"target_agent_number"`
	LawID                 int64             `json:"law_id"`
	EnforcementType       EnforcementType   `json:"enforcement_type"`
	ViolationDescription  string            `json:"violation_description"`
	Status                EnforcementStatus `json:"status"`
	VotesRequired         int               `json:"votes_required"`
	SupportCount          int               `json:"support_count"`
	OpposeCount           int               `json:"oppose_count"`
	VotingClosesAt        time.Time         `json:"voting_closes_at"`
	SanctionDurationHours *int              `json:"sanction_duration_hours,omitempty"`
	SeizureResource       *ResourceType     `json:"seizure_resource,omitempty"`
	SeizureQuantity       *int              `json:"seizure_quantity,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	ResolvedAt            *time.Time        `json:"resolved_at,omitempty"`
	ExecutedAt            *time.Time        `json:"executed_at,omitempty"`
}

// EnforcementVoteChoice is an enforcement vote value.
type EnforcementVoteChoice string

const (
	EnforcementVoteSupport EnforcementVoteChoice = "support"
	EnforcementVoteOppose  EnforcementVoteChoice = "oppose"
)

// EnforcementVote is one agent's vote on one enforcement motion; the
// (enforcement, agent) pair is unique.
type EnforcementVote struct {
	EnforcementID int64                 `json:"enforcement_id"`
	AgentNumber   int                   `json:"agent_number"`
	Choice        EnforcementVoteChoice `json:"choice"`
	CreatedAt     time.Time             `json:"created_at"`
}
