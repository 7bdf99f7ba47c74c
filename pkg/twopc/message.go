package twopc

// Epoch identifies a single run through the protocol. One execution of
// 2PC agrees on a value for one epoch; on decision, the epoch advances by
// one, allowing the engine to agree on a sequence of values.
type Epoch uint64

// Message is the wire alphabet exchanged between processes: VoteRequest,
// VoteResponse, Commit, Abort, DecisionRequest, and DecisionAck. It is
// opaque to the transport — the embedder only needs to move it from one
// process's outbox to another's Deliver event.
type Message interface {
	isMessage()
}

// VoteRequest asks a participant to vote on value for epoch.
type VoteRequest[V any] struct {
	Epoch Epoch
	Value V
}

func (VoteRequest[V]) isMessage() {}

// VoteResponse carries a participant's yes/no vote for epoch.
type VoteResponse struct {
	Epoch Epoch
	Vote  bool
}

func (VoteResponse) isMessage() {}

// Commit announces the commit decision for epoch.
type Commit struct {
	Epoch Epoch
}

func (Commit) isMessage() {}

// Abort announces the abort decision for epoch.
type Abort struct {
	Epoch Epoch
}

func (Abort) isMessage() {}

// DecisionRequest asks the recipient for the decision reached for epoch,
// as part of the termination (recovery) subprotocol.
type DecisionRequest struct {
	Epoch Epoch
}

func (DecisionRequest) isMessage() {}

// DecisionAck acknowledges receipt of a Commit or Abort for epoch.
type DecisionAck struct {
	Epoch Epoch
}

func (DecisionAck) isMessage() {}

// asCoordinatorMessage projects a wire Message onto the subset a
// coordinator can receive: VoteResponse, DecisionRequest, DecisionAck.
func asCoordinatorMessage(m Message) (Message, error) {
	switch m.(type) {
	case VoteResponse, DecisionRequest, DecisionAck:
		return m, nil
	default:
		return nil, invalidState("message %T cannot be handled by a coordinator", m)
	}
}

// asParticipantMessage projects a wire Message onto the subset a
// participant can receive: VoteRequest, Commit, Abort, DecisionRequest.
func asParticipantMessage[V any](m Message) (Message, error) {
	switch m.(type) {
	case VoteRequest[V], Commit, Abort, DecisionRequest:
		return m, nil
	default:
		return nil, invalidState("message %T cannot be handled by a participant", m)
	}
}
