package migrations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/apps/server/internal/migrations"
)

func TestRunID_RoundTrip(t *testing.T) {
	cases := []struct {
		migrationID string
		candidateID string
	}{
		{"migrate-chart", "billing-api"},
		{"m1", "repo-a"},
		{"upgrade-node-20", "team_payments-service"},
	}

	for _, tc := range cases {
		runID := migrations.RunID(tc.migrationID, tc.candidateID)
		mID, cID, err := migrations.ParseRunID(runID)
		require.NoError(t, err)
		assert.Equal(t, tc.migrationID, mID)
		assert.Equal(t, tc.candidateID, cID)
	}
}

func TestParseRunID_Malformed(t *testing.T) {
	for _, runID := range []string{"", "no-separator", "__leading", "trailing__", "__"} {
		_, _, err := migrations.ParseRunID(runID)
		assert.Error(t, err, "run id %q should be rejected", runID)
	}
}

func TestParseRunID_CandidateKeepsExtraSeparator(t *testing.T) {
	// Split is anchored on the first separator, so the remainder stays whole.
	mID, cID, err := migrations.ParseRunID("m1__repo__a")
	require.NoError(t, err)
	assert.Equal(t, "m1", mID)
	assert.Equal(t, "repo__a", cID)
}

func TestValidateIDPart(t *testing.T) {
	assert.NoError(t, migrations.ValidateIDPart("migrate-chart"))
	assert.NoError(t, migrations.ValidateIDPart("repo_a"))
	assert.Error(t, migrations.ValidateIDPart(""))
	assert.Error(t, migrations.ValidateIDPart("repo__a"))
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "step-completed:update-chart:billing-api", migrations.StepEventName("update-chart", "billing-api"))
	assert.Equal(t, "pr-opened:open-pr:billing-api", migrations.PROpenedEventName("open-pr", "billing-api"))
	assert.Equal(t, "retry-step:update-chart:billing-api", migrations.RetryStepEventName("update-chart", "billing-api"))
	assert.Equal(t, "update-inputs:billing-api", migrations.UpdateInputsEventName("billing-api"))
}
