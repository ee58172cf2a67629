package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoba-mfg/be-kanban-approvals/internal/apperr"
	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
	"github.com/aoba-mfg/be-kanban-approvals/internal/service"
)

func sampleSummary() *service.RangeSummary {
	return &service.RangeSummary{
		Type: "monthly",
		From: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		StatusCounts: map[repository.Status]int{
			repository.StatusApproved:  2,
			repository.StatusRejected:  1,
			repository.StatusPendingPC: 1,
		},
		Total:         4,
		TotalQuantity: 36,
		DistinctParts: 3,
		GeneratedAt:   time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)

	format, err = ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, format)

	_, err = ParseFormat("xml")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestRenderJSON(t *testing.T) {
	data, err := NewFormatter().Render(sampleSummary(), FormatJSON)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "monthly", decoded["type"])
	assert.Equal(t, float64(4), decoded["total"])
}

func TestRenderCSV_RangeSummary(t *testing.T) {
	data, err := NewFormatter().Render(sampleSummary(), FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5, "header + 3 statuses + total row")
	assert.Equal(t, "type,from,to,status,count", lines[0])
	// Status rows come out sorted for determinism.
	assert.Contains(t, lines[1], "APPROVED")
	assert.Contains(t, lines[2], "PENDING_PC_APPROVAL")
	assert.Contains(t, lines[3], "REJECTED")
	assert.Contains(t, lines[4], "TOTAL,4")
}

func TestRenderCSV_Activity(t *testing.T) {
	report := &service.ActivityReport{
		Type: "requester_activity",
		Requesters: []service.RequesterActivity{
			{RequesterID: "alice", Created: 2, Approved: 1, Rejected: 1},
			{RequesterID: "bob", Created: 1},
		},
	}

	data, err := NewFormatter().Render(report, FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "alice,2,1,1", lines[1])
	assert.Equal(t, "bob,1,0,0", lines[2])
}

func TestRenderCSV_Efficiency(t *testing.T) {
	report := &service.EfficiencyReport{
		Type:          "approval_efficiency",
		Decided:       3,
		Approved:      2,
		Rejected:      1,
		MeanLatency:   10 * time.Hour,
		MinLatency:    2 * time.Hour,
		MaxLatency:    24 * time.Hour,
		RejectionRate: 1.0 / 3.0,
	}

	data, err := NewFormatter().Render(report, FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "10h0m0s")
	assert.Contains(t, lines[1], "0.3333")
}

func TestRender_UnsupportedFormats(t *testing.T) {
	formatter := NewFormatter()

	for _, format := range []Format{FormatPDF, FormatExcel} {
		_, err := formatter.Render(sampleSummary(), format)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	}

	_, err := formatter.Render(struct{}{}, FormatCSV)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}
