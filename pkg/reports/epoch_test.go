package reports

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/season"
)

func TestWriteEpochReport(t *testing.T) {
	svc, st, clock := newTestService(t, nil)
	ctx := context.Background()

	epochID := uuid.NewString()
	champions := []models.EpochChampion{
		{EpochID: epochID, SeasonID: "season-001", AgentNumber: 4, DisplayName: "Juniper-04", Score: 81.5, Rank: 1},
		{EpochID: epochID, SeasonID: "season-002", AgentNumber: 2, DisplayName: "Marlow-02", Score: 64.25, Rank: 1},
	}

	artifact, err := svc.WriteEpochReport(ctx, epochID, champions)
	require.NoError(t, err)
	assert.Equal(t, ArtifactEpochReportV1, artifact.ArtifactType)
	assert.Equal(t, epochID, artifact.RunID)
	suffix := filepath.Join("reports", "epochs", epochID, "epoch_report.json")
	assert.True(t, strings.HasSuffix(artifact.PathJSON, suffix), artifact.PathJSON)

	data, err := os.ReadFile(artifact.PathJSON)
	require.NoError(t, err)
	var report EpochReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.GeneratedAt.Equal(clock.Now().UTC()))
	assert.Equal(t, epochID, report.EpochID)
	assert.Equal(t, season.ScorePolicyV1, report.PolicyVersion)
	assert.Equal(t, 2, report.SeasonCount)
	assert.Equal(t, champions, report.Champions)

	text := readText(t, artifact.PathMarkdown)
	assert.Contains(t, text, "# Epoch report: "+epochID)
	assert.Contains(t, text, "| season-001 | 1 | 4 | Juniper-04 | 81.50 |")
	assert.Contains(t, text, "| season-002 | 1 | 2 | Marlow-02 | 64.25 |")

	recorded, err := st.ListReportArtifacts(ctx, epochID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, artifact.PathJSON, recorded[0].PathJSON)
}

func TestWriteEpochReportNoChampions(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	artifact, err := svc.WriteEpochReport(context.Background(), uuid.NewString(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(artifact.PathJSON)
	require.NoError(t, err)
	var report EpochReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.NotNil(t, report.Champions)
	assert.Empty(t, report.Champions)
	assert.Zero(t, report.SeasonCount)

	assert.Contains(t, readText(t, artifact.PathMarkdown), "No champions selected.")
}

func TestWriteEpochReportRejectsNonUUID(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.WriteEpochReport(context.Background(), "epoch-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epoch id must be a UUID")
}
