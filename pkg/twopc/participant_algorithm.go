package twopc

import "time"

// DecisionTimeout is the maximum time a participant waits, after
// casting a yes vote, for the coordinator's Commit or Abort before
// entering the termination subprotocol and asking its peers directly.
const DecisionTimeout = 30 * time.Second

// ParticipantAlgorithm implements a participant's half of the protocol.
type ParticipantAlgorithm[P comparable, V any, T Time[T]] struct {
	timeSource TimeSource[T]
}

// NewParticipantAlgorithm returns a ParticipantAlgorithm using
// timeSource to stamp timeout windows.
func NewParticipantAlgorithm[P comparable, V any, T Time[T]](timeSource TimeSource[T]) *ParticipantAlgorithm[P, V, T] {
	return &ParticipantAlgorithm[P, V, T]{timeSource: timeSource}
}

// Event implements the participant transition table.
func (a *ParticipantAlgorithm[P, V, T]) Event(evt Event, ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	switch e := evt.(type) {
	case EventAlarm:
		return a.onAlarm(ctx)
	case EventVote:
		return a.onVote(e, ctx)
	case EventDeliver[P]:
		switch m := e.Message.(type) {
		case VoteRequest[V]:
			return a.onVoteRequest(e.From, m, ctx)
		case Commit:
			return a.onCommit(m, ctx)
		case Abort:
			return a.onAbort(m, ctx)
		case DecisionRequest:
			return a.onDecisionRequest(e.From, m, ctx)
		default:
			return nil, invalidState("message %T cannot be handled by a participant", e.Message)
		}
	default:
		return nil, invalidState("event %T cannot be handled by a participant", evt)
	}
}

func (a *ParticipantAlgorithm[P, V, T]) onAlarm(ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	switch s := ctx.State.(type) {
	case StateAbort:
		return nil, invalidState("Alarm unexpected in Abort state")

	case StateCommit:
		return nil, invalidState("Alarm unexpected in Commit state")

	case StateVoted[T]:
		if !a.timeSource.Now().After(s.DecisionTimeoutStart.Add(DecisionTimeout)) {
			return nil, nil
		}

		var actions []Action[P, T]
		for _, p := range ctx.ParticipantProcesses {
			if p == ctx.ThisProcess {
				continue
			}
			actions = append(actions, sendMessage[P, T](p, DecisionRequest{Epoch: ctx.Epoch}))
		}
		actions = append(actions, sendMessage[P, T](ctx.Coordinator, DecisionRequest{Epoch: ctx.Epoch}))

		next := ctx.Clone()
		start := a.timeSource.Now()
		end := start.Add(DecisionTimeout)
		next.State = StateVoted[T]{Vote: s.Vote, DecisionTimeoutStart: start}
		actions = append(actions, updateContext[P, T](next.ToContext(), alarmAt(end)))
		return actions, nil

	case StateWaitingForVote:
		return nil, invalidState("Alarm unexpected in WaitingForVote state")

	case StateWaitingForVoteRequest:
		return nil, invalidState("Alarm unexpected in WaitingForVoteRequest state")

	default:
		return nil, invalidState("unexpected participant state %T on alarm", ctx.State)
	}
}

func (a *ParticipantAlgorithm[P, V, T]) onVoteRequest(from P, m VoteRequest[V], ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	if ctx.Coordinator != from {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "sender process is not the coordinator"})}, nil
	}
	if ctx.Epoch != m.Epoch {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "epoch is not the current epoch"})}, nil
	}
	if _, ok := ctx.State.(StateWaitingForVoteRequest); !ok {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "context state is not WaitingForVoteRequest"})}, nil
	}

	next := ctx.Clone()
	next.State = StateWaitingForVote{}
	actions := []Action[P, T]{updateContext[P, T](next.ToContext(), nil)}
	actions = append(actions, notify[P, T](NotifyParticipantRequestForVote[V]{Value: m.Value}))
	return actions, nil
}

func (a *ParticipantAlgorithm[P, V, T]) onCommit(m Commit, ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	if ctx.Epoch != m.Epoch {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "epoch is not the current epoch"})}, nil
	}
	if _, ok := ctx.State.(StateVoted[T]); !ok {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "commit received outside decision window"})}, nil
	}

	next := ctx.Clone()
	next.State = StateCommit{}
	return []Action[P, T]{updateContext[P, T](next.ToContext(), nil)}, nil
}

func (a *ParticipantAlgorithm[P, V, T]) onAbort(m Abort, ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	if ctx.Epoch != m.Epoch {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "epoch is not the current epoch"})}, nil
	}
	if _, ok := ctx.State.(StateVoted[T]); !ok {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "abort received outside decision window"})}, nil
	}

	next := ctx.Clone()
	next.State = StateAbort{}
	return []Action[P, T]{updateContext[P, T](next.ToContext(), nil)}, nil
}

func (a *ParticipantAlgorithm[P, V, T]) onDecisionRequest(from P, m DecisionRequest, ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	isPeer := false
	for _, p := range ctx.ParticipantProcesses {
		if p == from {
			isPeer = true
			break
		}
	}
	if !isPeer && from != ctx.Coordinator {
		return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "sender process is not a coordinator or participant"})}, nil
	}

	if ctx.LastCommitEpoch != nil && *ctx.LastCommitEpoch == m.Epoch {
		return []Action[P, T]{sendMessage[P, T](from, Commit{Epoch: m.Epoch})}, nil
	}

	if m.Epoch < ctx.Epoch && (ctx.LastCommitEpoch == nil || m.Epoch > *ctx.LastCommitEpoch) {
		return []Action[P, T]{sendMessage[P, T](from, Abort{Epoch: m.Epoch})}, nil
	}

	return []Action[P, T]{notify[P, T](NotifyMessageDropped{Reason: "decision for requested epoch is unknown"})}, nil
}

func (a *ParticipantAlgorithm[P, V, T]) onVote(e EventVote, ctx ParticipantContext[P, T]) ([]Action[P, T], error) {
	if _, ok := ctx.State.(StateWaitingForVote); !ok {
		return nil, invalidState("Vote event when not in WaitingForVote state")
	}

	next := ctx.Clone()
	var actions []Action[P, T]
	if e.Vote {
		start := a.timeSource.Now()
		end := start.Add(DecisionTimeout)
		next.State = StateVoted[T]{Vote: true, DecisionTimeoutStart: start}
		actions = append(actions, updateContext[P, T](next.ToContext(), alarmAt(end)))
	} else {
		next.State = StateAbort{}
		actions = append(actions, updateContext[P, T](next.ToContext(), nil))
	}

	actions = append(actions, sendMessage[P, T](next.Coordinator, VoteResponse{Epoch: next.Epoch, Vote: e.Vote}))
	return actions, nil
}
