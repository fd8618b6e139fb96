package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ironbucket/resultgate/exitcodes"
	"github.com/ironbucket/resultgate/types"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitcodes.Success},
		{"config", errors.New("failed to create config: missing required flags"), exitcodes.Failure},
		{"harness", types.NewStageError(types.StageExecute, &types.HarnessFailure{ExitCode: 1}), exitcodes.Failure},
		{"transport", types.NewStageError(types.StageUpload, &types.TransportFailure{Method: "PUT", HTTPStatus: 503}), exitcodes.Failure},
		{"mismatch", fmt.Errorf("run: %w", types.NewStageError(types.StageVerify, &types.VerificationMismatch{})), exitcodes.Failure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDescribe(t *testing.T) {
	err := types.NewStageError(types.StageUpload, &types.TransportFailure{Method: "PUT", URL: "http://gw/api/s3/b/k", Attempts: 3, HTTPStatus: 503})
	assert.Equal(t, "FAIL (upload): upload stage failed: transport failure: PUT http://gw/api/s3/b/k after 3 attempt(s), last status 503", describe(err))
	assert.Equal(t, "FAIL: boom", describe(errors.New("boom")))
}
