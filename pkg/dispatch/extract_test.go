package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/engine"
	"github.com/polis-labs/polis/pkg/models"
)

func TestExtractActionJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "bare object",
			text: `{"action": "idle"}`,
			want: `{"action": "idle"}`,
		},
		{
			name: "json fence",
			text: "```json\n{\"action\": \"work\", \"job\": \"farm\"}\n```",
			want: `{"action": "work", "job": "farm"}`,
		},
		{
			name: "uppercase fence label",
			text: "```JSON\n{\"action\": \"idle\"}\n```",
			want: `{"action": "idle"}`,
		},
		{
			name: "unlabeled fence",
			text: "```\n{\"action\": \"idle\"}\n```",
			want: `{"action": "idle"}`,
		},
		{
			name: "object inside prose",
			text: `After weighing my options I choose {"action": "vote", "proposal_id": 3, "vote": "yes"} and that is final.`,
			want: `{"action": "vote", "proposal_id": 3, "vote": "yes"}`,
		},
		{
			name: "braces inside strings",
			text: `{"action": "message", "body": "watch the {pool} level \" carefully"}`,
			want: `{"action": "message", "body": "watch the {pool} level \" carefully"}`,
		},
		{
			name: "nested object",
			text: `{"action": "trade", "target_agent_number": 2, "give": {"resource": "food", "qty": 1}, "receive": {"resource": "energy", "qty": 1}}`,
			want: `{"action": "trade", "target_agent_number": 2, "give": {"resource": "food", "qty": 1}, "receive": {"resource": "energy", "qty": 1}}`,
		},
		{
			name:    "no object at all",
			text:    "I will think about it tomorrow.",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			text:    `{"action": "idle"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractActionJSON(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestExtractedActionParses(t *testing.T) {
	raw, err := extractActionJSON("Sure thing.\n```json\n{\"action\": \"consume\", \"resource\": \"food\", \"quantity\": 2}\n```\nDone.")
	require.NoError(t, err)

	act, err := engine.ParseAction(raw)
	require.NoError(t, err)
	assert.Equal(t, engine.ActionConsume, act.Type)
	assert.Equal(t, "food", act.Resource)
	assert.Equal(t, 2, act.Quantity)
}

func TestRoutineAction(t *testing.T) {
	tests := []struct {
		name    string
		inv     models.Inventory
		wantJob string
	}{
		{
			name:    "empty inventory farms",
			inv:     models.Inventory{},
			wantJob: "farm",
		},
		{
			name: "healthy stock idles",
			inv: models.Inventory{
				models.ResourceFood:      4,
				models.ResourceEnergy:    3,
				models.ResourceMaterials: 6,
			},
		},
		{
			name: "scarcest resource wins",
			inv: models.Inventory{
				models.ResourceFood:      5,
				models.ResourceEnergy:    1,
				models.ResourceMaterials: 2,
			},
			wantJob: "generate",
		},
		{
			name: "food wins ties",
			inv: models.Inventory{
				models.ResourceFood:      2,
				models.ResourceEnergy:    2,
				models.ResourceMaterials: 5,
			},
			wantJob: "farm",
		},
		{
			name: "materials shortfall gathers",
			inv: models.Inventory{
				models.ResourceFood:      3,
				models.ResourceEnergy:    3,
				models.ResourceMaterials: 1,
			},
			wantJob: "gather",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := RoutineAction(tt.inv)
			require.NotNil(t, act)
			if tt.wantJob == "" {
				assert.Equal(t, engine.ActionIdle, act.Type)
				return
			}
			assert.Equal(t, engine.ActionWork, act.Type)
			assert.Equal(t, tt.wantJob, act.Job)
		})
	}
}

func TestParseOverrides(t *testing.T) {
	assert.Empty(t, parseOverrides(""))
	assert.Equal(t, map[string]string{"a": "b"}, parseOverrides("a=b"))
	assert.Equal(t,
		map[string]string{"gpt-4o-mini": "claude-haiku", "gemini-flash": "llama-3.1-8b"},
		parseOverrides(" gpt-4o-mini = claude-haiku , gemini-flash=llama-3.1-8b "))
	assert.Empty(t, parseOverrides("noequals, =left, right="))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantType  models.LLMErrorType
		retryable bool
	}{
		{429, models.LLMErrorRateLimited, true},
		{408, models.LLMErrorTimeout, true},
		{401, models.LLMErrorAuth, false},
		{403, models.LLMErrorAuth, false},
		{402, models.LLMErrorQuota, false},
		{500, models.LLMErrorServer, true},
		{503, models.LLMErrorServer, true},
		{400, models.LLMErrorServer, false},
		{422, models.LLMErrorServer, false},
	}
	for _, tt := range tests {
		et, retryable := classifyStatus(tt.status)
		assert.Equal(t, tt.wantType, et, "status %d", tt.status)
		assert.Equal(t, tt.retryable, retryable, "status %d", tt.status)
	}
}

func TestClassifyErr(t *testing.T) {
	ce := classifyErr("openai", 0, context.DeadlineExceeded)
	assert.Equal(t, models.LLMErrorTimeout, ce.Type)
	assert.True(t, ce.Retryable)

	ce = classifyErr("openai", 0, context.Canceled)
	assert.Equal(t, models.LLMErrorTimeout, ce.Type)
	assert.False(t, ce.Retryable, "local shutdown must not retry")

	ce = classifyErr("groq", 429, errors.New("rate limit reached"))
	assert.Equal(t, models.LLMErrorRateLimited, ce.Type)
	assert.True(t, ce.Retryable)

	ce = classifyErr("mistral", 0, errors.New("connection refused"))
	assert.Equal(t, models.LLMErrorNetwork, ce.Type)
	assert.True(t, ce.Retryable)

	wrapped := asCallError("anthropic", ce)
	assert.Same(t, ce, wrapped, "adapters' CallErrors pass through untouched")
}
