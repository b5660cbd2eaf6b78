package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/resource"
	"github.com/labsai/EDDI-integration-tests/internal/testutil"
)

const (
	botA = "00000000000000000000000a"
	botB = "00000000000000000000000b"
)

func TestParseBotRef(t *testing.T) {
	tests := []struct {
		ref     string
		want    resource.ID
		wantErr bool
	}{
		{ref: botA, want: resource.ID{ID: botA, Version: 1}},
		{ref: botA + ":3", want: resource.ID{ID: botA, Version: 3}},
		{ref: "eddi://ai.labs.bot/botstore/bots/" + botA + "?version=2", want: resource.ID{ID: botA, Version: 2}},
		{ref: "eddi://ai.labs.bot/botstore/bots/" + botA, want: resource.ID{ID: botA, Version: 1}},
		{ref: ":2", wantErr: true},
		{ref: botA + ":zero", wantErr: true},
		{ref: botA + ":0", wantErr: true},
		{ref: "eddi://ai.labs.bot/botstore/bots/" + botA + "?version=x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := parseBotRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeployCommand_DeploysEveryBot(t *testing.T) {
	fake := fakeService(t)

	out, err := executeRoot(t, "deploy", botA, botB+":2", "--base-uri", fake.URL())
	require.NoError(t, err, out)
	assert.Contains(t, out, botA)
	assert.Contains(t, out, "READY")

	triggers, auto := fake.DeployTriggers(botA, 1)
	assert.Equal(t, 1, triggers)
	assert.Equal(t, []bool{true}, auto)
	triggers, _ = fake.DeployTriggers(botB, 2)
	assert.Equal(t, 1, triggers)
	assert.Equal(t, 2, fake.StatusPolls(botA, 1))
}

func TestDeployCommand_NoAutoDeploy(t *testing.T) {
	fake := fakeService(t)

	_, err := executeRoot(t, "deploy", botA, "--base-uri", fake.URL(), "--no-auto-deploy")
	require.NoError(t, err)

	_, auto := fake.DeployTriggers(botA, 1)
	assert.Equal(t, []bool{false}, auto)
}

func TestDeployCommand_FlagOverridesEnvironment(t *testing.T) {
	fake := fakeService(t)
	t.Setenv("EDDI_BASEURI", "http://unreachable.invalid")

	_, err := executeRoot(t, "deploy", botA, "--base-uri", fake.URL())
	require.NoError(t, err)
}

func TestDeployCommand_FailedDeployment(t *testing.T) {
	fake := fakeService(t)
	fake.SetDeploySequence(botA, 1, testutil.StatusInProgress, testutil.StatusError)

	out, err := executeRoot(t, "deploy", botA, "--base-uri", fake.URL(), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDeploy, resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "deployment of bot "+botA+" version 1 failed")
}

func TestDeployCommand_InvalidReference(t *testing.T) {
	out, err := executeRoot(t, "deploy", botA+":latest")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_DEPLOY]: invalid bot reference")
}

func TestDeployCommand_InvalidConfig(t *testing.T) {
	t.Setenv("EDDI_ENVIRONMENT", "production")

	_, err := executeRoot(t, "deploy", botA)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `eddi.environment "production" must be one of`)
}
