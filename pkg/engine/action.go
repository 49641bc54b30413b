// Package engine validates and executes agent actions. Actions arrive as a
// JSON tagged union (the "action" field selects the shape); validation is a
// read-only pass that returns a verdict and a reason, execution applies the
// state changes inside a single database transaction and rolls back whole on
// any violation. The processor owns the surrounding turn loop and event
// emission; the engine owns the semantics of each action type.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/polis-labs/polis/pkg/models"
)

// ActionType is the discriminator of the action union.
type ActionType string

const (
	ActionIdle            ActionType = "idle"
	ActionWork            ActionType = "work"
	ActionTrade           ActionType = "trade"
	ActionConsume         ActionType = "consume"
	ActionProduce         ActionType = "produce"
	ActionPropose         ActionType = "propose"
	ActionVote            ActionType = "vote"
	ActionMessage         ActionType = "message"
	ActionEnforceInitiate ActionType = "enforce_initiate"
	ActionEnforceVote     ActionType = "enforce_vote"
	ActionSetName         ActionType = "set_name"
)

// KnownActionTypes lists every accepted discriminator value.
var KnownActionTypes = []ActionType{
	ActionIdle, ActionWork, ActionTrade, ActionConsume, ActionProduce,
	ActionPropose, ActionVote, ActionMessage,
	ActionEnforceInitiate, ActionEnforceVote, ActionSetName,
}

// Known reports whether t is an accepted discriminator value.
func (t ActionType) Known() bool {
	for _, k := range KnownActionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// TradeLeg is one side of a trade: a resource and a positive quantity.
type TradeLeg struct {
	Resource models.ResourceType `json:"resource"`
	Qty      int                 `json:"qty"`
}

// Action is the decoded union. Only the fields of the selected type carry
// meaning; the rest stay at their zero values. Models emit these objects
// directly, so decoding tolerates extra fields but the discriminator must
// name a known type.
type Action struct {
	Type ActionType `json:"action"`

	// work
	Job string `json:"job,omitempty"`

	// trade, message, enforce_initiate (nil target on message = broadcast)
	TargetAgentNumber *int `json:"target_agent_number,omitempty"`

	// trade
	Give    *TradeLeg `json:"give,omitempty"`
	Receive *TradeLeg `json:"receive,omitempty"`

	// consume
	Resource string `json:"resource,omitempty"`
	Quantity int    `json:"quantity,omitempty"`

	// propose
	ProposalType string `json:"proposal_type,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	TargetLawID  *int64 `json:"target_law_id,omitempty"`

	// vote, enforce_vote (vote carries yes/no or support/oppose)
	ProposalID    int64  `json:"proposal_id,omitempty"`
	EnforcementID int64  `json:"enforcement_id,omitempty"`
	Vote          string `json:"vote,omitempty"`

	// enforce_initiate
	EnforcementType       string `json:"enforcement_type,omitempty"`
	LawID                 int64  `json:"law_id,omitempty"`
	ViolationDescription  string `json:"violation_description,omitempty"`
	SanctionDurationHours *int   `json:"sanction_duration_hours,omitempty"`
	SeizureResource       string `json:"seizure_resource,omitempty"`
	SeizureQuantity       *int   `json:"seizure_quantity,omitempty"`

	// message
	Body string `json:"body,omitempty"`

	// set_name
	DisplayName string `json:"display_name,omitempty"`
}

// Label returns the action_type string recorded with the attempt. Work is
// labeled per job so diminishing returns can count cycles by job.
func (a *Action) Label() string {
	if a.Type == ActionWork && a.Job != "" {
		return "work:" + a.Job
	}
	return string(a.Type)
}

// ParseAction decodes one action object. It rejects malformed JSON and
// unknown or missing discriminators; field-level problems are left to
// Validate so the agent gets a reason it can act on.
func ParseAction(raw []byte) (*Action, error) {
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("malformed action JSON: %w", err)
	}
	if a.Type == "" {
		return nil, fmt.Errorf("action object is missing the %q field", "action")
	}
	if !a.Type.Known() {
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
	return &a, nil
}
