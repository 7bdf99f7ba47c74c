package twopc

// State is the closed set of states a Context may be in.
// Coordinator-only variants are StateWaitingForStart, StateVoting,
// StateWaitingForVote, and StateWaitingForDecisionAck. Participant-only
// variants are StateWaitingForVoteRequest, StateWaitingForVote, and
// StateVoted. StateCommit and StateAbort are shared between roles (I7).
//
// A type switch over State is the dispatch mechanism the algorithms use;
// there is deliberately no behavior attached to the variants themselves.
type State[T any] interface {
	isState()
}

// StateWaitingForStart is the coordinator's idle state, awaiting a Start
// event from the embedder.
type StateWaitingForStart struct{}

func (StateWaitingForStart) isState() {}

// StateVoting is the coordinator's state after VoteRequest has been sent
// to every participant, collecting VoteResponses. VoteTimeoutStart marks
// when the vote-collection timeout window began.
type StateVoting[T any] struct {
	VoteTimeoutStart T
}

func (StateVoting[T]) isState() {}

// StateWaitingForVote is shared in spelling but distinct in role: for the
// coordinator it means every participant voted yes and the coordinator's
// own vote is pending; for a participant it means a VoteRequest has been
// received and the embedder's vote is pending.
type StateWaitingForVote struct{}

func (StateWaitingForVote) isState() {}

// StateCommit means the process has decided to commit the current epoch.
type StateCommit struct{}

func (StateCommit) isState() {}

// StateAbort means the process has decided to abort the current epoch.
type StateAbort struct{}

func (StateAbort) isState() {}

// StateWaitingForDecisionAck is the coordinator's post-decision state,
// awaiting a DecisionAck from every participant before advancing epoch.
type StateWaitingForDecisionAck[T any] struct {
	AckTimeoutStart T
}

func (StateWaitingForDecisionAck[T]) isState() {}

// StateWaitingForVoteRequest is the participant's idle state, awaiting a
// VoteRequest from the coordinator.
type StateWaitingForVoteRequest struct{}

func (StateWaitingForVoteRequest) isState() {}

// StateVoted is the participant's state after it has dispatched its vote
// to the coordinator and is awaiting the decision (the "uncertainty
// period"). DecisionTimeoutStart marks when that wait began.
type StateVoted[T any] struct {
	Vote                bool
	DecisionTimeoutStart T
}

func (StateVoted[T]) isState() {}

// asCoordinatorState validates that s is legal for a coordinator (I7),
// returning InvalidState otherwise.
func asCoordinatorState[T any](s State[T]) (State[T], error) {
	switch s.(type) {
	case StateWaitingForStart, StateVoting[T], StateWaitingForVote, StateCommit, StateAbort, StateWaitingForDecisionAck[T]:
		return s, nil
	default:
		return nil, invalidState("invalid state for coordinator: %T", s)
	}
}

// asParticipantState validates that s is legal for a participant (I7),
// returning InvalidState otherwise.
func asParticipantState[T any](s State[T]) (State[T], error) {
	switch s.(type) {
	case StateWaitingForVoteRequest, StateWaitingForVote, StateVoted[T], StateCommit, StateAbort:
		return s, nil
	default:
		return nil, invalidState("invalid state for participant: %T", s)
	}
}
