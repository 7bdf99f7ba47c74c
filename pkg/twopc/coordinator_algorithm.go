package twopc

import "time"

// VoteTimeout is the maximum time the coordinator waits, after sending
// VoteRequest to every participant, for all VoteResponses to arrive
// before deciding to abort.
const VoteTimeout = 30 * time.Second

// AckTimeout is the maximum time the coordinator waits, after
// communicating a decision, for every participant's DecisionAck before
// advancing to the next epoch regardless. Its value has no bearing on
// correctness — a coordinator that moves on early is simply relying on
// participants to use the termination subprotocol to catch up.
const AckTimeout = 5 * time.Second

// CoordinatorAlgorithm implements the coordinator's half of the
// protocol: Event consumes an Event against a CoordinatorContext and
// produces the ordered Action list the embedder
// must apply.
type CoordinatorAlgorithm[P comparable, V any, T Time[T]] struct {
	timeSource TimeSource[T]
}

// NewCoordinatorAlgorithm returns a CoordinatorAlgorithm using
// timeSource to stamp timeout windows.
func NewCoordinatorAlgorithm[P comparable, V any, T Time[T]](timeSource TimeSource[T]) *CoordinatorAlgorithm[P, V, T] {
	return &CoordinatorAlgorithm[P, V, T]{timeSource: timeSource}
}

// pushAbort appends the actions for an abort decision: update state to
// Abort, send Abort to every participant who voted yes, notify, then
// wait for decision acks. Order matters for crash safety — the state
// update is durable before any message reflecting it is sent.
func (a *CoordinatorAlgorithm[P, V, T]) pushAbort(ctx CoordinatorContext[P, T], actions []Action[P, T]) []Action[P, T] {
	ctx = ctx.Clone()
	ctx.State = StateAbort{}
	actions = append(actions, updateContext[P, T](ctx.ToContext(), nil))

	for _, p := range ctx.Participants {
		if p.Vote != nil && *p.Vote {
			actions = append(actions, sendMessage[P, T](p.Process, Abort{Epoch: ctx.Epoch}))
		}
	}

	actions = append(actions, notify[P, T](NotifyAbort{}))
	return a.pushWaitForDecisionAck(ctx, actions)
}

// pushWaitForDecisionAck transitions into StateWaitingForDecisionAck
// and arms the ack timeout alarm.
func (a *CoordinatorAlgorithm[P, V, T]) pushWaitForDecisionAck(ctx CoordinatorContext[P, T], actions []Action[P, T]) []Action[P, T] {
	ctx = ctx.Clone()
	start := a.timeSource.Now()
	end := start.Add(AckTimeout)
	ctx.State = StateWaitingForDecisionAck[T]{AckTimeoutStart: start}
	return append(actions, updateContext[P, T](ctx.ToContext(), alarmAt(end)))
}

// pushAdvanceEpoch resets per-epoch bookkeeping, bumps the epoch, and
// returns to StateWaitingForStart, then asks the embedder for the next
// value to propose. Called after either decision's acks have settled.
func (a *CoordinatorAlgorithm[P, V, T]) pushAdvanceEpoch(ctx CoordinatorContext[P, T], actions []Action[P, T]) []Action[P, T] {
	ctx = ctx.Clone()
	if _, ok := ctx.State.(StateCommit); ok {
		epoch := ctx.Epoch
		ctx.LastCommitEpoch = &epoch
	}
	ctx.Epoch++
	ctx.State = StateWaitingForStart{}
	for i := range ctx.Participants {
		ctx.Participants[i].Vote = nil
		ctx.Participants[i].DecisionAck = false
	}
	actions = append(actions, updateContext[P, T](ctx.ToContext(), nil))
	return append(actions, notify[P, T](NotifyRequestForStart{}))
}

// Event implements the coordinator transition table.
func (a *CoordinatorAlgorithm[P, V, T]) Event(evt Event, ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	switch e := evt.(type) {
	case EventStart[V]:
		return a.onStart(e, ctx)
	case EventVote:
		return a.onVote(e, ctx)
	case EventAlarm:
		return a.onAlarm(ctx)
	case EventDeliver[P]:
		switch m := e.Message.(type) {
		case VoteResponse:
			return a.onVoteResponse(e.From, m, ctx)
		case DecisionRequest:
			return a.onDecisionRequest(e.From, m, ctx)
		case DecisionAck:
			return a.onDecisionAck(e.From, m, ctx)
		default:
			return nil, invalidState("message %T cannot be handled by a coordinator", e.Message)
		}
	default:
		return nil, invalidState("event %T cannot be handled by a coordinator", evt)
	}
}

func (a *CoordinatorAlgorithm[P, V, T]) onStart(e EventStart[V], ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	var actions []Action[P, T]
	for _, p := range ctx.Participants {
		actions = append(actions, sendMessage[P, T](p.Process, VoteRequest[V]{Epoch: ctx.Epoch, Value: e.Value}))
	}

	ctx = ctx.Clone()
	start := a.timeSource.Now()
	end := start.Add(VoteTimeout)
	ctx.State = StateVoting[T]{VoteTimeoutStart: start}
	actions = append(actions, updateContext[P, T](ctx.ToContext(), alarmAt(end)))
	return actions, nil
}

func (a *CoordinatorAlgorithm[P, V, T]) onVote(e EventVote, ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	if _, ok := ctx.State.(StateWaitingForVote); !ok {
		return nil, invalidState("Vote event when not in WaitingForVote state")
	}

	if !e.Vote {
		return a.pushAbort(ctx, nil), nil
	}

	next := ctx.Clone()
	next.State = StateCommit{}
	actions := []Action[P, T]{updateContext[P, T](next.ToContext(), nil)}
	for _, p := range next.Participants {
		actions = append(actions, sendMessage[P, T](p.Process, Commit{Epoch: next.Epoch}))
	}
	actions = append(actions, notify[P, T](NotifyCommit{}))
	return a.pushWaitForDecisionAck(next, actions), nil
}

func (a *CoordinatorAlgorithm[P, V, T]) onAlarm(ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	switch s := ctx.State.(type) {
	case StateVoting[T]:
		if a.timeSource.Now().After(s.VoteTimeoutStart.Add(VoteTimeout)) {
			return a.pushAbort(ctx, nil), nil
		}
		return nil, nil

	case StateWaitingForStart:
		return []Action[P, T]{
			notify[P, T](NotifyRequestForStart{}),
			updateContext[P, T](ctx.Clone().ToContext(), nil),
		}, nil

	case StateWaitingForVote:
		return []Action[P, T]{
			notify[P, T](NotifyCoordinatorRequestForVote{}),
			updateContext[P, T](ctx.Clone().ToContext(), nil),
		}, nil

	case StateWaitingForDecisionAck[T]:
		if a.timeSource.Now().After(s.AckTimeoutStart.Add(AckTimeout)) {
			return a.pushAdvanceEpoch(ctx, nil), nil
		}
		return nil, nil

	case StateCommit, StateAbort:
		return a.pushAdvanceEpoch(ctx, nil), nil

	default:
		return nil, invalidState("unexpected coordinator state %T on alarm", ctx.State)
	}
}

func (a *CoordinatorAlgorithm[P, V, T]) onVoteResponse(from P, m VoteResponse, ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	idx := -1
	for i, p := range ctx.Participants {
		if p.Process == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "sender process is not a participant"})}, nil
	}

	if ctx.Epoch != m.Epoch {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "epoch is not the current epoch"})}, nil
	}

	if _, ok := ctx.State.(StateVoting[T]); !ok {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "context state is not Voting"})}, nil
	}

	if ctx.Participants[idx].Vote != nil {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "participant has already voted"})}, nil
	}

	next := ctx.Clone()
	vote := m.Vote
	next.Participants[idx].Vote = &vote
	actions := []Action[P, T]{updateContext[P, T](next.ToContext(), nil)}

	allVoted, anyNo := true, false
	for _, p := range next.Participants {
		if p.Vote == nil {
			allVoted = false
			break
		}
		if !*p.Vote {
			anyNo = true
		}
	}
	if !allVoted {
		return actions, nil
	}
	if anyNo {
		return a.pushAbort(next, actions), nil
	}

	next = next.Clone()
	next.State = StateWaitingForVote{}
	actions = append(actions, updateContext[P, T](next.ToContext(), nil))
	actions = append(actions, notify[P, T](NotifyCoordinatorRequestForVote{}))
	return actions, nil
}

func (a *CoordinatorAlgorithm[P, V, T]) onDecisionRequest(from P, m DecisionRequest, ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	isParticipant := false
	for _, p := range ctx.Participants {
		if p.Process == from {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "sender process is not a participant"})}, nil
	}

	if ctx.LastCommitEpoch != nil && *ctx.LastCommitEpoch == m.Epoch {
		return []Action[P, T]{sendMessage[P, T](from, Commit{Epoch: m.Epoch})}, nil
	}

	if m.Epoch < ctx.Epoch && (ctx.LastCommitEpoch == nil || m.Epoch > *ctx.LastCommitEpoch) {
		return []Action[P, T]{sendMessage[P, T](from, Abort{Epoch: m.Epoch})}, nil
	}

	return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "decision for requested epoch is unknown"})}, nil
}

func (a *CoordinatorAlgorithm[P, V, T]) onDecisionAck(from P, m DecisionAck, ctx CoordinatorContext[P, T]) ([]Action[P, T], error) {
	idx := -1
	for i, p := range ctx.Participants {
		if p.Process == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "sender process is not a participant"})}, nil
	}

	if ctx.Epoch != m.Epoch {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "epoch is not the current epoch"})}, nil
	}

	if _, ok := ctx.State.(StateWaitingForDecisionAck[T]); !ok {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "context state is not WaitingForDecisionAck"})}, nil
	}

	if ctx.Participants[idx].DecisionAck {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "participant has already sent a decision ack"})}, nil
	}

	next := ctx.Clone()
	next.Participants[idx].DecisionAck = true
	actions := []Action[P, T]{updateContext[P, T](next.ToContext(), nil)}

	allAcked := true
	for _, p := range next.Participants {
		if !p.DecisionAck {
			allAcked = false
			break
		}
	}
	if allAcked {
		return a.pushAdvanceEpoch(next, actions), nil
	}
	return actions, nil
}
