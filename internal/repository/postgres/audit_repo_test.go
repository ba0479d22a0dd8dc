package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/pipeline-approval-relay/internal/audit"
)

func TestBuildBatchInsert(t *testing.T) {
	ts := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{ID: "a", TraceID: "t1", Pipeline: "infra", Env: "prod", Stage: "prod-Plan-and-Apply", Action: "Approval",
			Status: "Approved", Summary: "LGTM", Outcome: audit.OutcomeSuccess, DurationMs: 120, Timestamp: ts},
		{ID: "b", TraceID: "t2", Pipeline: "infra", Env: "qa", Stage: "qa-Plan-and-Apply", Action: "Approval",
			Status: "Rejected", Outcome: audit.OutcomeFailed, Error: "stage not found", DurationMs: 40, Timestamp: ts},
	}

	query, vals := buildBatchInsert(events)

	require.Len(t, vals, 2*auditColumns)
	assert.True(t, strings.HasPrefix(query, "INSERT INTO approval_audit (id, trace_id,"))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12), ($13,")
	assert.Contains(t, query, "$24)")
	assert.NotContains(t, query, "$25")
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (id) DO NOTHING"))

	assert.Equal(t, "a", vals[0])
	assert.Equal(t, "b", vals[auditColumns])
	assert.Equal(t, "stage not found", vals[auditColumns+9])
	assert.Equal(t, int64(40), vals[auditColumns+10])
	assert.Equal(t, ts, vals[auditColumns+11])
}
