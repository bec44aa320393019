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

func seedMigration(ts *testServer, candidates ...api.Candidate) {
	_ = ts.store.Save(context.Background(), api.Migration{
		Id:          "migrate-chart",
		Name:        "Migrate chart",
		Steps:       []api.StepDefinition{{Name: "update-chart", MigratorApp: "app-chart-migrator"}},
		MigratorUrl: "http://app-chart-migrator:3001",
		Candidates:  candidates,
	})
}

// ─── POST .../start ──────────────────────────────────────────────────────────

func TestStartRun_ReturnsRunID(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api"})

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/start", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "migrate-chart__billing-api", body["runId"])
}

func TestStartRun_UnknownMigration_Returns404(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/migrations/nope/candidates/billing-api/start", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRun_UnknownCandidate_Returns404(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api"})

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/nope/start", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRun_AlreadyRunning_Returns409(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})
	// Engine confirms the run is live (default stub behaviour).

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/start", nil)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStartRun_StaleRunning_HealsAndStarts(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})
	ts.engine.getStatusFn = func(_ context.Context, id string) (*migrations.RunStatus, error) {
		return nil, migrations.RunNotFoundError{InstanceID: id}
	}

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/start", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestStartRun_MissingRequiredInputs_Returns400(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.store.Save(context.Background(), api.Migration{
		Id:             "migrate-chart",
		Name:           "Migrate chart",
		RequiredInputs: ptr([]api.InputSpec{{Name: "targetVersion"}}),
		Steps:          []api.StepDefinition{{Name: "update-chart", MigratorApp: "app-chart-migrator"}},
		Candidates:     []api.Candidate{{Id: "billing-api"}},
	})

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/start", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "targetVersion")
}

func TestStartRun_WithInputs_SatisfiesRequired(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.store.Save(context.Background(), api.Migration{
		Id:             "migrate-chart",
		Name:           "Migrate chart",
		RequiredInputs: ptr([]api.InputSpec{{Name: "targetVersion"}}),
		Steps:          []api.StepDefinition{{Name: "update-chart", MigratorApp: "app-chart-migrator"}},
		Candidates:     []api.Candidate{{Id: "billing-api"}},
	})

	var manifest api.MigrationManifest
	ts.engine.startFn = func(_ context.Context, _, id string, input any) (string, error) {
		manifest = input.(api.MigrationManifest)
		return id, nil
	}

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/start",
		api.StartRequest{Inputs: ptr(map[string]string{"targetVersion": "2.0.0"})})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, manifest.Candidates, 1)
	require.NotNil(t, manifest.Candidates[0].Metadata)
	assert.Equal(t, "2.0.0", (*manifest.Candidates[0].Metadata)["targetVersion"])
}

// ─── POST .../cancel ─────────────────────────────────────────────────────────

func TestCancelRun_ResetsCandidate(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/cancel", nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	m, _ := ts.store.Get(context.Background(), "migrate-chart")
	require.NotNil(t, m.Candidates[0].Status)
	assert.Equal(t, api.CandidateStatusNotStarted, *m.Candidates[0].Status)
}

func TestCancelRun_NotRunning_Returns409(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api"})

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/cancel", nil)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelRun_RunAlreadyGone_StillResets(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})
	ts.engine.cancelFn = func(_ context.Context, id string) error {
		return migrations.RunNotFoundError{InstanceID: id}
	}

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/cancel", nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	m, _ := ts.store.Get(context.Background(), "migrate-chart")
	assert.Equal(t, api.CandidateStatusNotStarted, *m.Candidates[0].Status)
}

// ─── POST .../retry-step ─────────────────────────────────────────────────────

func TestRetryStep_RaisesRetrySignal(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})
	var raised string
	ts.engine.raiseEventFn = func(_ context.Context, _, event string, _ any) error {
		raised = event
		return nil
	}

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/retry-step",
		api.RetryStepRequest{StepName: "update-chart"})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "retry-step:update-chart:billing-api", raised)
}

func TestRetryStep_MissingStepName_Returns400(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api", Status: ptr(api.CandidateStatusRunning)})

	w := ts.do(http.MethodPost, "/migrations/migrate-chart/candidates/billing-api/retry-step",
		map[string]string{})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── PUT .../inputs ──────────────────────────────────────────────────────────

func TestUpdateInputs_PersistsAndSignals(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{
		Id:       "billing-api",
		Status:   ptr(api.CandidateStatusRunning),
		Metadata: ptr(map[string]string{"repoName": "typo-name"}),
	})
	var raised string
	ts.engine.raiseEventFn = func(_ context.Context, _, event string, _ any) error {
		raised = event
		return nil
	}

	w := ts.do(http.MethodPut, "/migrations/migrate-chart/candidates/billing-api/inputs",
		map[string]string{"repoName": "fixed-name"})

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "update-inputs:billing-api", raised)

	m, _ := ts.store.Get(context.Background(), "migrate-chart")
	require.NotNil(t, m.Candidates[0].Metadata)
	assert.Equal(t, "fixed-name", (*m.Candidates[0].Metadata)["repoName"])
}

func TestUpdateInputs_NotRunning_Returns409(t *testing.T) {
	ts := newTestServer(t)
	seedMigration(ts, api.Candidate{Id: "billing-api"})

	w := ts.do(http.MethodPut, "/migrations/migrate-chart/candidates/billing-api/inputs",
		map[string]string{"repoName": "fixed-name"})

	require.Equal(t, http.StatusConflict, w.Code)
}

// ─── GET .../steps ───────────────────────────────────────────────────────────

func TestGetCandidateSteps_LiveRun(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.getStatusFn = func(_ context.Context, _ string) (*migrations.RunStatus, error) {
		return &migrations.RunStatus{
			RuntimeStatus: "RUNNING",
			Steps: []api.StepState{
				{StepName: "update-chart", Candidate: api.Candidate{Id: "billing-api"}, Status: api.StepStateStatusInProgress},
			},
		}, nil
	}

	w := ts.do(http.MethodGet, "/migrations/migrate-chart/candidates/billing-api/steps", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.CandidateStepsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.CandidateStepsResponseStatusRunning, resp.Status)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, api.StepStateStatusInProgress, resp.Steps[0].Status)
}

func TestGetCandidateSteps_FinishedRun(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.getStatusFn = func(_ context.Context, _ string) (*migrations.RunStatus, error) {
		return &migrations.RunStatus{
			RuntimeStatus: "COMPLETED",
			Steps: []api.StepState{
				{StepName: "update-chart", Candidate: api.Candidate{Id: "billing-api"}, Status: api.StepStateStatusSucceeded},
			},
		}, nil
	}

	w := ts.do(http.MethodGet, "/migrations/migrate-chart/candidates/billing-api/steps", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.CandidateStepsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.CandidateStepsResponseStatusCompleted, resp.Status)
}

func TestGetCandidateSteps_NoRun_Returns404(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.getStatusFn = func(_ context.Context, id string) (*migrations.RunStatus, error) {
		return nil, migrations.RunNotFoundError{InstanceID: id}
	}

	w := ts.do(http.MethodGet, "/migrations/migrate-chart/candidates/billing-api/steps", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
}
