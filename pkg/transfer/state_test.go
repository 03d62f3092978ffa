package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apyrgio/kamaki/pkg/kamakierr"
)

func TestUploadState_LegalPathToDone(t *testing.T) {
	ctx := context.Background()
	s := NewUploadState("obj")

	require.NoError(t, s.Transition(ctx, StatePolicyLoaded))
	require.NoError(t, s.Transition(ctx, StateHashed))
	require.NoError(t, s.Transition(ctx, StateCommittedProbe))
	require.NoError(t, s.Transition(ctx, StateUploading))
	require.NoError(t, s.Transition(ctx, StateCommittedFinal))
	require.NoError(t, s.Transition(ctx, StateDone))
	assert.Equal(t, StateDone, s.State())
}

func TestUploadState_ProbeCanShortcutDirectlyToDone(t *testing.T) {
	ctx := context.Background()
	s := NewUploadState("obj")

	require.NoError(t, s.Transition(ctx, StatePolicyLoaded))
	require.NoError(t, s.Transition(ctx, StateHashed))
	require.NoError(t, s.Transition(ctx, StateCommittedProbe))
	require.NoError(t, s.Transition(ctx, StateDone))
	assert.Equal(t, StateDone, s.State())
}

func TestUploadState_IllegalTransitionIsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewUploadState("obj")

	err := s.Transition(ctx, StateCommittedFinal)
	require.Error(t, err)
	assert.ErrorIs(t, err, kamakierr.ErrPrecondition)
	assert.Equal(t, StateInit, s.State(), "state must not change on a rejected transition")
}

func TestUploadState_NoTransitionsAllowedAfterTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewUploadState("obj")
	s.Fail(ctx, errors.New("boom"))

	err := s.Transition(ctx, StatePolicyLoaded)
	require.Error(t, err)
	assert.ErrorIs(t, err, kamakierr.ErrPrecondition)
}

func TestDownloadState_LegalPathToDone(t *testing.T) {
	ctx := context.Background()
	s := NewDownloadState("obj")

	require.NoError(t, s.Transition(ctx, StateRemoteHashmapLoaded))
	require.NoError(t, s.Transition(ctx, StateFetching))
	require.NoError(t, s.Transition(ctx, StateDone))
}

func TestDownloadState_ResumeThenFetchThenDone(t *testing.T) {
	ctx := context.Background()
	s := NewDownloadState("obj")

	require.NoError(t, s.Transition(ctx, StateRemoteHashmapLoaded))
	require.NoError(t, s.Transition(ctx, StateResuming))
	require.NoError(t, s.Transition(ctx, StateFetching))
	require.NoError(t, s.Transition(ctx, StateDone))
}

func TestDownloadState_ResumeCanShortcutDirectlyToDone(t *testing.T) {
	ctx := context.Background()
	s := NewDownloadState("obj")

	require.NoError(t, s.Transition(ctx, StateRemoteHashmapLoaded))
	require.NoError(t, s.Transition(ctx, StateResuming))
	require.NoError(t, s.Transition(ctx, StateDone))
}

func TestFail_FirstErrorWinsOverSubsequentCalls(t *testing.T) {
	ctx := context.Background()
	s := NewUploadState("obj")

	first := errors.New("first failure")
	second := errors.New("second failure")
	s.Fail(ctx, first)
	s.Fail(ctx, second)

	assert.Equal(t, first, s.FirstError())
	assert.Equal(t, StateFailed, s.State())
}

func TestFail_NoOpAfterDone(t *testing.T) {
	ctx := context.Background()
	s := NewUploadState("obj")
	require.NoError(t, s.Transition(ctx, StatePolicyLoaded))
	require.NoError(t, s.Transition(ctx, StateHashed))
	require.NoError(t, s.Transition(ctx, StateCommittedProbe))
	require.NoError(t, s.Transition(ctx, StateDone))

	s.Fail(ctx, errors.New("too late"))
	assert.Equal(t, StateDone, s.State())
	assert.Nil(t, s.FirstError())
}

func TestIncCompleted_ReturnsRunningTotal(t *testing.T) {
	s := NewUploadState("obj")
	assert.Equal(t, 1, s.IncCompleted())
	assert.Equal(t, 2, s.IncCompleted())
	assert.Equal(t, 3, s.IncCompleted())
}
