package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/models"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   ActionType
		errMsg string
	}{
		{name: "work", raw: `{"action":"work","job":"farm"}`, want: ActionWork},
		{name: "idle", raw: `{"action":"idle"}`, want: ActionIdle},
		{name: "vote", raw: `{"action":"vote","proposal_id":9,"vote":"yes"}`, want: ActionVote},
		{name: "set_name", raw: `{"action":"set_name","display_name":"Shadow"}`, want: ActionSetName},
		{name: "extra fields tolerated", raw: `{"action":"idle","mood":"tired"}`, want: ActionIdle},
		{name: "missing tag", raw: `{"job":"farm"}`, errMsg: "missing"},
		{name: "unknown type", raw: `{"action":"teleport"}`, errMsg: `unknown action type "teleport"`},
		{name: "malformed JSON", raw: `{"action":`, errMsg: "malformed action JSON"},
		{name: "array body", raw: `[{"action":"idle"}]`, errMsg: "malformed action JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := ParseAction([]byte(tt.raw))
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, act.Type)
		})
	}
}

func TestParseActionFieldDecoding(t *testing.T) {
	raw := `{
		"action": "trade",
		"target_agent_number": 7,
		"give": {"resource": "food", "qty": 2},
		"receive": {"resource": "energy", "qty": 1}
	}`
	act, err := ParseAction([]byte(raw))
	require.NoError(t, err)

	require.NotNil(t, act.TargetAgentNumber)
	assert.Equal(t, 7, *act.TargetAgentNumber)
	require.NotNil(t, act.Give)
	assert.Equal(t, models.ResourceFood, act.Give.Resource)
	assert.Equal(t, 2, act.Give.Qty)
	require.NotNil(t, act.Receive)
	assert.Equal(t, models.ResourceEnergy, act.Receive.Resource)
	assert.Equal(t, 1, act.Receive.Qty)

	raw = `{
		"action": "enforce_initiate",
		"target_agent_number": 3,
		"enforcement_type": "seizure",
		"law_id": 11,
		"violation_description": "hoarding during shortage",
		"seizure_resource": "materials",
		"seizure_quantity": 5
	}`
	act, err = ParseAction([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(11), act.LawID)
	assert.Equal(t, "seizure", act.EnforcementType)
	assert.Equal(t, "materials", act.SeizureResource)
	require.NotNil(t, act.SeizureQuantity)
	assert.Equal(t, 5, *act.SeizureQuantity)

	// Broadcast message: target stays nil.
	act, err = ParseAction([]byte(`{"action":"message","body":"anyone trading food?"}`))
	require.NoError(t, err)
	assert.Nil(t, act.TargetAgentNumber)
	assert.Equal(t, "anyone trading food?", act.Body)
}

func TestActionLabel(t *testing.T) {
	assert.Equal(t, "work:farm", (&Action{Type: ActionWork, Job: "farm"}).Label())
	assert.Equal(t, "work:gather", (&Action{Type: ActionWork, Job: "gather"}).Label())
	assert.Equal(t, "trade", (&Action{Type: ActionTrade}).Label())
	assert.Equal(t, "idle", (&Action{Type: ActionIdle}).Label())
}

func TestJobResource(t *testing.T) {
	assert.Equal(t, models.ResourceFood, jobResource("farm"))
	assert.Equal(t, models.ResourceEnergy, jobResource("generate"))
	assert.Equal(t, models.ResourceMaterials, jobResource("gather"))
	assert.Equal(t, models.ResourceType(""), jobResource("mine"))
}

func TestWorkYield(t *testing.T) {
	tests := []struct {
		base, percent, cycles, want int
	}{
		{base: 4, percent: 25, cycles: 0, want: 4},
		{base: 4, percent: 25, cycles: 1, want: 3},
		{base: 4, percent: 25, cycles: 2, want: 2},
		{base: 4, percent: 25, cycles: 3, want: 1},
		{base: 4, percent: 25, cycles: 8, want: 1}, // floors at 1
		{base: 3, percent: 25, cycles: 1, want: 2},
		{base: 3, percent: 25, cycles: 2, want: 1},
		{base: 5, percent: 0, cycles: 4, want: 5},  // no diminishing
		{base: 2, percent: 100, cycles: 1, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, workYield(tt.base, tt.percent, tt.cycles),
			"base=%d percent=%d cycles=%d", tt.base, tt.percent, tt.cycles)
	}
}

func TestQuorumVotes(t *testing.T) {
	assert.Equal(t, 8, quorumVotes(24, 30)) // 7.2 rounds up
	assert.Equal(t, 3, quorumVotes(10, 30))
	assert.Equal(t, 1, quorumVotes(3, 30))
	assert.Equal(t, 10, quorumVotes(10, 100))
	assert.Equal(t, 1, quorumVotes(0, 30)) // never zero
	assert.Equal(t, 1, quorumVotes(1, 1))
}
