package twopc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newCoordinatorAlgorithm(ts *mockTimeSource) *CoordinatorAlgorithm[string, string, mockTime] {
	return NewCoordinatorAlgorithm[string, string, mockTime](ts)
}

func freshCoordinatorContext(t *testing.T) CoordinatorContext[string, mockTime] {
	t.Helper()
	ctx, err := NewContextBuilder[string, mockTime]().
		WithCoordinator("A").
		WithEpoch(0).
		WithThisProcess("A").
		WithState(StateWaitingForStart{}).
		WithParticipants([]Participant[string]{NewParticipant("B"), NewParticipant("C")}).
		Build()
	require.NoError(t, err)
	cctx, err := AsCoordinatorContext(ctx)
	require.NoError(t, err)
	return cctx
}

func TestCoordinatorStartSendsVoteRequestsAndArmsTimeout(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)

	actions, err := alg.Event(EventStart[string]{Value: "commit-me"}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)

	sent := map[string]Message{}
	for _, a := range actions[:2] {
		sm, ok := a.(ActionSendMessage[string])
		require.True(t, ok)
		sent[sm.To] = sm.Message
	}
	require.Equal(t, VoteRequest[string]{Epoch: 0, Value: "commit-me"}, sent["B"])
	require.Equal(t, VoteRequest[string]{Epoch: 0, Value: "commit-me"}, sent["C"])

	update, ok := actions[2].(ActionUpdate[string, mockTime])
	require.True(t, ok)
	require.IsType(t, StateVoting[mockTime]{}, update.Context.State)
	require.NotNil(t, update.Alarm)
	require.Equal(t, ts.Now().Add(VoteTimeout), *update.Alarm)
}

func TestCoordinatorVoteResponseAllYesRequestsCoordinatorVote(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateVoting[mockTime]{VoteTimeoutStart: ts.Now()}

	actions, err := alg.Event(EventDeliver[string]{From: "B", Message: VoteResponse{Epoch: 0, Vote: true}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	update := actions[0].(ActionUpdate[string, mockTime])
	require.IsType(t, StateVoting[mockTime]{}, update.Context.State)

	cctx, err := AsCoordinatorContext(update.Context)
	require.NoError(t, err)

	actions, err = alg.Event(EventDeliver[string]{From: "C", Message: VoteResponse{Epoch: 0, Vote: true}}, cctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	update = actions[1].(ActionUpdate[string, mockTime])
	require.IsType(t, StateWaitingForVote{}, update.Context.State)
	notifyAct, ok := actions[2].(ActionNotify)
	require.True(t, ok)
	require.IsType(t, NotifyCoordinatorRequestForVote{}, notifyAct.Notification)
}

func TestCoordinatorVoteResponseAnyNoAborts(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateVoting[mockTime]{VoteTimeoutStart: ts.Now()}
	yes := true
	ctx.Participants[1].Vote = &yes // C already voted yes; B's no vote is the last one needed

	actions, err := alg.Event(EventDeliver[string]{From: "B", Message: VoteResponse{Epoch: 0, Vote: false}}, ctx)
	require.NoError(t, err)

	var sawAbortState, sawAbortNotify, sawAdvance bool
	abortRecipients := map[string]bool{}
	for _, a := range actions {
		switch v := a.(type) {
		case ActionUpdate[string, mockTime]:
			if _, ok := v.Context.State.(StateAbort); ok {
				sawAbortState = true
			}
			if _, ok := v.Context.State.(StateWaitingForDecisionAck[mockTime]); ok {
				sawAdvance = true
			}
		case ActionSendMessage[string]:
			if _, ok := v.Message.(Abort); ok {
				abortRecipients[v.To] = true
			}
		case ActionNotify:
			if _, ok := v.Notification.(NotifyAbort); ok {
				sawAbortNotify = true
			}
		}
	}
	require.True(t, sawAbortState)
	require.True(t, sawAbortNotify)
	require.True(t, sawAdvance)
	// Only C voted yes, so only C needs to be told to roll back.
	require.Equal(t, map[string]bool{"C": true}, abortRecipients)
}

func TestCoordinatorVoteResponseDroppedWhenUnknownSender(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateVoting[mockTime]{VoteTimeoutStart: ts.Now()}

	actions, err := alg.Event(EventDeliver[string]{From: "Z", Message: VoteResponse{Epoch: 0, Vote: true}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	notify := actions[0].(ActionNotify).Notification.(NotifyMessageDropped)
	require.Contains(t, notify.Reason, "not a participant")
}

func TestCoordinatorVoteResponseDroppedWhenWrongEpoch(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateVoting[mockTime]{VoteTimeoutStart: ts.Now()}
	ctx.Epoch = 1

	actions, err := alg.Event(EventDeliver[string]{From: "B", Message: VoteResponse{Epoch: 0, Vote: true}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	notify := actions[0].(ActionNotify).Notification.(NotifyMessageDropped)
	require.Contains(t, notify.Reason, "current epoch")
}

func TestCoordinatorVoteCommitsAndWaitsForAck(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateWaitingForVote{}

	actions, err := alg.Event(EventVote{Vote: true}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 5)

	update0 := actions[0].(ActionUpdate[string, mockTime])
	require.IsType(t, StateCommit{}, update0.Context.State)

	require.IsType(t, ActionSendMessage[string]{}, actions[1])
	require.IsType(t, ActionSendMessage[string]{}, actions[2])

	notifyAct := actions[3].(ActionNotify)
	require.IsType(t, NotifyCommit{}, notifyAct.Notification)

	update1 := actions[4].(ActionUpdate[string, mockTime])
	require.IsType(t, StateWaitingForDecisionAck[mockTime]{}, update1.Context.State)
}

func TestCoordinatorVoteOutsideWaitingForVoteIsInvalidState(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)

	_, err := alg.Event(EventVote{Vote: true}, ctx)
	require.Error(t, err)
	var algErr *AlgorithmError
	require.ErrorAs(t, err, &algErr)
	require.Equal(t, ErrInvalidState, algErr.Kind)
}

func TestCoordinatorAlarmBeforeVoteTimeoutIsIgnored(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateVoting[mockTime]{VoteTimeoutStart: ts.Now()}
	ts.Advance(VoteTimeout - time.Second)

	actions, err := alg.Event(EventAlarm{}, ctx)
	require.NoError(t, err)
	require.Empty(t, actions)
}

func TestCoordinatorAlarmAfterVoteTimeoutAborts(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateVoting[mockTime]{VoteTimeoutStart: ts.Now()}
	ts.Advance(VoteTimeout + time.Second)

	actions, err := alg.Event(EventAlarm{}, ctx)
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	update := actions[0].(ActionUpdate[string, mockTime])
	require.IsType(t, StateAbort{}, update.Context.State)
}

func TestCoordinatorAlarmWhileWaitingForStartReemitsNotifyAndClearsAlarm(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateWaitingForStart{}

	actions, err := alg.Event(EventAlarm{}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	notifyAction, ok := actions[0].(ActionNotify)
	require.True(t, ok)
	require.IsType(t, NotifyRequestForStart{}, notifyAction.Notification)

	update, ok := actions[1].(ActionUpdate[string, mockTime])
	require.True(t, ok)
	require.Nil(t, update.Alarm)
	require.IsType(t, StateWaitingForStart{}, update.Context.State)
}

func TestCoordinatorAlarmWhileWaitingForVoteReemitsNotifyAndClearsAlarm(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateWaitingForVote{}

	actions, err := alg.Event(EventAlarm{}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	notifyAction, ok := actions[0].(ActionNotify)
	require.True(t, ok)
	require.IsType(t, NotifyCoordinatorRequestForVote{}, notifyAction.Notification)

	update, ok := actions[1].(ActionUpdate[string, mockTime])
	require.True(t, ok)
	require.Nil(t, update.Alarm)
	require.IsType(t, StateWaitingForVote{}, update.Context.State)
}

func TestCoordinatorDecisionRequestAnswersLastCommitEpoch(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	epoch := Epoch(3)
	ctx.LastCommitEpoch = &epoch
	ctx.Epoch = 4

	actions, err := alg.Event(EventDeliver[string]{From: "B", Message: DecisionRequest{Epoch: 3}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	sm := actions[0].(ActionSendMessage[string])
	require.Equal(t, "B", sm.To)
	require.Equal(t, Commit{Epoch: 3}, sm.Message)
}

func TestCoordinatorDecisionRequestForOlderEpochAnswersAbort(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	epoch := Epoch(1)
	ctx.LastCommitEpoch = &epoch
	ctx.Epoch = 4

	actions, err := alg.Event(EventDeliver[string]{From: "B", Message: DecisionRequest{Epoch: 2}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	sm := actions[0].(ActionSendMessage[string])
	require.Equal(t, Abort{Epoch: 2}, sm.Message)
}

func TestCoordinatorDecisionRequestUnknownEpochIsDropped(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.Epoch = 4

	actions, err := alg.Event(EventDeliver[string]{From: "B", Message: DecisionRequest{Epoch: 10}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.IsType(t, ActionNotify{}, actions[0])
}

func TestCoordinatorDecisionAckAdvancesEpochWhenAllAcked(t *testing.T) {
	ts := &mockTimeSource{}
	alg := newCoordinatorAlgorithm(ts)
	ctx := freshCoordinatorContext(t)
	ctx.State = StateWaitingForDecisionAck[mockTime]{AckTimeoutStart: ts.Now()}
	ctx.Participants[0].DecisionAck = true // B already acked

	actions, err := alg.Event(EventDeliver[string]{From: "C", Message: DecisionAck{Epoch: 0}}, ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)

	recordAck := actions[0].(ActionUpdate[string, mockTime])
	require.IsType(t, StateWaitingForDecisionAck[mockTime]{}, recordAck.Context.State)

	advance := actions[1].(ActionUpdate[string, mockTime])
	require.IsType(t, StateWaitingForStart{}, advance.Context.State)
	require.Equal(t, Epoch(1), advance.Context.Epoch)

	found := false
	for _, a := range actions {
		if n, ok := a.(ActionNotify); ok {
			if _, ok := n.Notification.(NotifyRequestForStart); ok {
				found = true
			}
		}
	}
	require.True(t, found)
}
