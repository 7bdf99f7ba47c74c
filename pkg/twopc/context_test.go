package twopc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func coordinatorContext(t *testing.T) Context[string, mockTime] {
	t.Helper()
	ctx, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").
		WithEpoch(0).
		WithThisProcess("A").
		WithState(StateWaitingForStart{}).
		WithParticipants([]Participant[string]{NewParticipant("B"), NewParticipant("C")}).
		Build()
	require.NoError(t, err)
	return ctx
}

func participantContext(t *testing.T) Context[string, mockTime] {
	t.Helper()
	ctx, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").
		WithEpoch(0).
		WithThisProcess("B").
		WithState(StateWaitingForVoteRequest{}).
		WithParticipantProcesses([]string{"A", "C"}).
		Build()
	require.NoError(t, err)
	return ctx
}

func TestContextBuilderRequiresCoordinatorRole(t *testing.T) {
	ctx := coordinatorContext(t)
	require.True(t, ctx.IsCoordinator())
	require.Nil(t, ctx.ParticipantProcesses)
	require.Len(t, ctx.Participants, 2)
}

func TestContextBuilderRequiresParticipantRole(t *testing.T) {
	ctx := participantContext(t)
	require.False(t, ctx.IsCoordinator())
	require.Nil(t, ctx.Participants)
	require.Equal(t, []string{"A", "C"}, ctx.ParticipantProcesses)
}

func TestContextBuilderMissingFieldsAggregated(t *testing.T) {
	_, err := NewContextBuilder[string, mockTime]().Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "coordinator")
	require.Contains(t, err.Error(), "epoch")
	require.Contains(t, err.Error(), "state")
	require.Contains(t, err.Error(), "this_process")
}

func TestContextBuilderMutuallyExclusiveRoleFields(t *testing.T) {
	_, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").
		WithEpoch(0).
		WithThisProcess("A").
		WithState(StateWaitingForStart{}).
		WithParticipants([]Participant[string]{NewParticipant("B")}).
		WithParticipantProcesses([]string{"B"}).
		Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mutually exclusive")
}

func TestContextBuilderNeitherRoleFieldSet(t *testing.T) {
	_, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").
		WithEpoch(0).
		WithThisProcess("A").
		WithState(StateWaitingForStart{}).
		Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "exactly one of")
}

func TestContextBuilderRejectsStateForWrongRole(t *testing.T) {
	_, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").
		WithEpoch(0).
		WithThisProcess("A").
		WithState(StateWaitingForVoteRequest{}).
		WithParticipants([]Participant[string]{NewParticipant("B")}).
		Build()
	require.Error(t, err)
}

func TestContextCloneIsIndependent(t *testing.T) {
	ctx := coordinatorContext(t)
	clone := ctx.Clone()

	vote := true
	clone.Participants[0].Vote = &vote
	require.Nil(t, ctx.Participants[0].Vote)

	epoch := Epoch(5)
	clone.LastCommitEpoch = &epoch
	require.Nil(t, ctx.LastCommitEpoch)
}

func TestAsCoordinatorContextRejectsParticipantContext(t *testing.T) {
	_, err := AsCoordinatorContext(participantContext(t))
	require.Error(t, err)
}

func TestAsParticipantContextRejectsCoordinatorContext(t *testing.T) {
	_, err := AsParticipantContext(coordinatorContext(t))
	require.Error(t, err)
}

func TestCoordinatorContextRoundTrip(t *testing.T) {
	ctx := coordinatorContext(t)
	cctx, err := AsCoordinatorContext(ctx)
	require.NoError(t, err)
	require.Equal(t, ctx, cctx.ToContext())
}

func TestParticipantContextRoundTrip(t *testing.T) {
	ctx := participantContext(t)
	pctx, err := AsParticipantContext(ctx)
	require.NoError(t, err)
	require.Equal(t, ctx, pctx.ToContext())
}
