package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/pkg/api"
)

// ─── GET /migrations ─────────────────────────────────────────────────────────

func TestList_ReturnsMigrations(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts)

	w := ts.do(http.MethodGet, "/migrations", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ListMigrationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Migrations, 1)
	assert.Equal(t, "migrate-chart", resp.Migrations[0].Id)
}

// ─── GET /migrations/:id ─────────────────────────────────────────────────────

func TestGetMigration_Found(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts)

	w := ts.do(http.MethodGet, "/migrations/migrate-chart", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var m api.Migration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, "Migrate chart", m.Name)
}

func TestGetMigration_NotFound_Returns404(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/migrations/nope", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
}

// ─── POST /migrations/:id/candidates ─────────────────────────────────────────

func TestSubmitCandidates_Saves(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts)

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates",
		api.SubmitCandidatesRequest{Candidates: []api.Candidate{{Id: "billing-api", Kind: "application"}}})

	require.Equal(t, http.StatusNoContent, w.Code)
	saved, err := ts.store.GetCandidates(context.Background(), "migrate-chart")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "billing-api", saved[0].Id)
}

func TestSubmitCandidates_UnknownMigration_Returns404(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/migrations/nope/candidates",
		api.SubmitCandidatesRequest{Candidates: []api.Candidate{{Id: "billing-api"}}})

	require.Equal(t, http.StatusNotFound, w.Code)
}

// ─── GET /migrations/:id/candidates ──────────────────────────────────────────

func TestGetCandidates_ReturnsList(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api"}, api.Candidate{Id: "payments-api"})

	w := ts.do(http.MethodGet, "/migrations/migrate-chart/candidates", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var candidates []api.Candidate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &candidates))
	assert.Len(t, candidates, 2)
}

func TestGetCandidates_StaleRunning_IsHealed(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})
	ts.engine.getStatusFn = func(_ context.Context, id string) (*migrations.RunStatus, error) {
		return nil, migrations.RunNotFoundError{InstanceID: id}
	}

	w := ts.do(http.MethodGet, "/migrations/migrate-chart/candidates", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var candidates []api.Candidate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &candidates))
	require.Len(t, candidates, 1)
	require.NotNil(t, candidates[0].Status)
	assert.Equal(t, api.CandidateStatusNotStarted, *candidates[0].Status)
}

// ─── POST /migrations/:id/dry-run ────────────────────────────────────────────

func TestDryRun_ReturnsResult(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts)
	ts.dryRun.result = &api.DryRunResult{
		Steps: []api.StepDryRunResult{{StepName: "update-chart"}},
	}

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/dry-run",
		api.DryRunCandidateRequest{Candidate: api.Candidate{Id: "billing-api"}})

	require.Equal(t, http.StatusOK, w.Code)
	var result api.DryRunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "update-chart", result.Steps[0].StepName)
}

func TestDryRun_UnknownMigration_Returns404(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/migrations/nope/dry-run",
		api.DryRunCandidateRequest{Candidate: api.Candidate{Id: "billing-api"}})

	require.Equal(t, http.StatusNotFound, w.Code)
}

// ─── Request validation wiring ───────────────────────────────────────────────

func TestSubmitCandidates_WithValidation_RejectsMissingId(t *testing.T) {
	ts := newTestServerWithValidation(t)
	seedMigration(ts)

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates",
		map[string]any{"candidates": []map[string]string{{"kind": "application"}}})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth_PassesValidation(t *testing.T) {
	ts := newTestServerWithValidation(t)

	w := ts.do(http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
}
