package twopc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineDispatchesToCoordinatorForCoordinatorContext(t *testing.T) {
	ts := &mockTimeSource{}
	engine := NewEngine[string, string, mockTime](ts)
	ctx := coordinatorContext(t)

	actions, err := engine.Event(EventStart[string]{Value: "go"}, ctx)
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	_, ok := actions[0].(ActionSendMessage[string])
	require.True(t, ok)
}

func TestEngineDispatchesToParticipantForParticipantContext(t *testing.T) {
	ts := &mockTimeSource{}
	engine := NewEngine[string, string, mockTime](ts)
	ctx := participantContext(t)

	actions, err := engine.Event(
		EventDeliver[string]{From: "A", Message: VoteRequest[string]{Epoch: 0, Value: "go"}},
		ctx,
	)
	require.NoError(t, err)
	require.Len(t, actions, 2)
}

func TestEngineRejectsStartEventForParticipantContext(t *testing.T) {
	ts := &mockTimeSource{}
	engine := NewEngine[string, string, mockTime](ts)
	ctx := participantContext(t)

	_, err := engine.Event(EventStart[string]{Value: "go"}, ctx)
	require.Error(t, err)
	var algErr *AlgorithmError
	require.ErrorAs(t, err, &algErr)
	require.Equal(t, ErrInvalidState, algErr.Kind)
}

func TestEngineRejectsCoordinatorOnlyMessageForParticipantContext(t *testing.T) {
	ts := &mockTimeSource{}
	engine := NewEngine[string, string, mockTime](ts)
	ctx := participantContext(t)

	_, err := engine.Event(EventDeliver[string]{From: "A", Message: VoteResponse{Epoch: 0, Vote: true}}, ctx)
	require.Error(t, err)
}

func TestEngineRejectsParticipantOnlyMessageForCoordinatorContext(t *testing.T) {
	ts := &mockTimeSource{}
	engine := NewEngine[string, string, mockTime](ts)
	ctx := coordinatorContext(t)

	_, err := engine.Event(EventDeliver[string]{From: "B", Message: VoteRequest[string]{Epoch: 0, Value: "go"}}, ctx)
	require.Error(t, err)
}

// TestEngineFullCommitRun exercises an epoch through the unified Engine
// across three simulated processes, from Start up to the coordinator's
// commit decision and its move to WaitingForDecisionAck, mirroring spec
// scenario S1 (unanimous yes vote commits) up to the decision acks.
func TestEngineFullCommitRun(t *testing.T) {
	ts := &mockTimeSource{}
	engine := NewEngine[string, string, mockTime](ts)

	coordCtx := coordinatorContext(t)
	bCtx, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").WithEpoch(0).WithThisProcess("B").
		WithState(StateWaitingForVoteRequest{}).
		WithParticipantProcesses([]string{"C"}).
		Build()
	require.NoError(t, err)
	cCtx, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").WithEpoch(0).WithThisProcess("C").
		WithState(StateWaitingForVoteRequest{}).
		WithParticipantProcesses([]string{"B"}).
		Build()
	require.NoError(t, err)

	// Coordinator starts the epoch: both participants get a VoteRequest.
	actions, err := engine.Event(EventStart[string]{Value: "deploy"}, coordCtx)
	require.NoError(t, err)
	var voteRequestToB, voteRequestToC Message
	for _, a := range actions {
		if sm, ok := a.(ActionSendMessage[string]); ok {
			switch sm.To {
			case "B":
				voteRequestToB = sm.Message
			case "C":
				voteRequestToC = sm.Message
			}
		}
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			coordCtx = u.Context
		}
	}
	require.Equal(t, VoteRequest[string]{Epoch: 0, Value: "deploy"}, voteRequestToB)
	require.Equal(t, VoteRequest[string]{Epoch: 0, Value: "deploy"}, voteRequestToC)

	// B processes the VoteRequest and votes yes.
	actions, err = engine.Event(EventDeliver[string]{From: "A", Message: voteRequestToB}, bCtx)
	require.NoError(t, err)
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			bCtx = u.Context
		}
	}
	actions, err = engine.Event(EventVote{Vote: true}, bCtx)
	require.NoError(t, err)
	var bVoteResponse Message
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			bCtx = u.Context
		}
		if sm, ok := a.(ActionSendMessage[string]); ok {
			bVoteResponse = sm.Message
		}
	}

	// C processes the VoteRequest and votes yes.
	actions, err = engine.Event(EventDeliver[string]{From: "A", Message: voteRequestToC}, cCtx)
	require.NoError(t, err)
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			cCtx = u.Context
		}
	}
	actions, err = engine.Event(EventVote{Vote: true}, cCtx)
	require.NoError(t, err)
	var cVoteResponse Message
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			cCtx = u.Context
		}
		if sm, ok := a.(ActionSendMessage[string]); ok {
			cVoteResponse = sm.Message
		}
	}

	// Coordinator records both yes votes and asks for its own vote.
	actions, err = engine.Event(EventDeliver[string]{From: "B", Message: bVoteResponse}, coordCtx)
	require.NoError(t, err)
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			coordCtx = u.Context
		}
	}
	actions, err = engine.Event(EventDeliver[string]{From: "C", Message: cVoteResponse}, coordCtx)
	require.NoError(t, err)
	var sawRequestForVote bool
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			coordCtx = u.Context
		}
		if n, ok := a.(ActionNotify); ok {
			if _, ok := n.Notification.(NotifyCoordinatorRequestForVote); ok {
				sawRequestForVote = true
			}
		}
	}
	require.True(t, sawRequestForVote)

	// Coordinator votes yes, committing and broadcasting Commit.
	actions, err = engine.Event(EventVote{Vote: true}, coordCtx)
	require.NoError(t, err)
	commits := map[string]Message{}
	for _, a := range actions {
		if u, ok := a.(ActionUpdate[string, mockTime]); ok {
			coordCtx = u.Context
		}
		if sm, ok := a.(ActionSendMessage[string]); ok {
			commits[sm.To] = sm.Message
		}
	}
	require.Equal(t, Commit{Epoch: 0}, commits["B"])
	require.Equal(t, Commit{Epoch: 0}, commits["C"])
	require.True(t, coordCtx.IsCoordinator())
	cctx, err := AsCoordinatorContext(coordCtx)
	require.NoError(t, err)
	require.IsType(t, StateWaitingForDecisionAck[mockTime]{}, cctx.State)
}
