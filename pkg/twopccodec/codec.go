// Package twopccodec gives the embedder a ready concrete wire format for
// pkg/twopc's Message and Context values (a Context's State included),
// using
// github.com/fxamacker/cbor/v2 — the same CBOR library the teacher
// already depends on. Serialization is explicitly the embedder's
// responsibility per the core's contract; this package is one concrete
// answer to that responsibility, not a requirement the core imposes.
// Event and Action values have no encoding here.
//
// Neither Message nor State is a plain struct CBOR can encode
// directly — each is a closed interface with several variants — so every
// value is first projected into a tagged "wire" struct carrying a Kind
// discriminator and only the fields that variant needs, then that wire
// struct is what actually gets handed to cbor.Marshal/Unmarshal.
package twopccodec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/oasisprotocol/twopc/pkg/twopc"
)

type messageKind uint8

const (
	kindVoteRequest messageKind = iota
	kindVoteResponse
	kindCommit
	kindAbort
	kindDecisionRequest
	kindDecisionAck
)

// wireMessage is the CBOR-serializable projection of twopc.Message.
type wireMessage[V any] struct {
	Kind  messageKind
	Epoch twopc.Epoch
	Value V    `cbor:",omitempty"`
	Vote  bool `cbor:",omitempty"`
}

// MarshalMessage encodes a twopc.Message.
func MarshalMessage[V any](m twopc.Message) ([]byte, error) {
	w, err := toWireMessage[V](m)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(w)
}

// UnmarshalMessage decodes a twopc.Message previously encoded with
// MarshalMessage, with the same V as was used to encode it.
func UnmarshalMessage[V any](data []byte) (twopc.Message, error) {
	var w wireMessage[V]
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("twopccodec: unmarshal message: %w", err)
	}
	return fromWireMessage(w)
}

func toWireMessage[V any](m twopc.Message) (wireMessage[V], error) {
	switch v := m.(type) {
	case twopc.VoteRequest[V]:
		return wireMessage[V]{Kind: kindVoteRequest, Epoch: v.Epoch, Value: v.Value}, nil
	case twopc.VoteResponse:
		return wireMessage[V]{Kind: kindVoteResponse, Epoch: v.Epoch, Vote: v.Vote}, nil
	case twopc.Commit:
		return wireMessage[V]{Kind: kindCommit, Epoch: v.Epoch}, nil
	case twopc.Abort:
		return wireMessage[V]{Kind: kindAbort, Epoch: v.Epoch}, nil
	case twopc.DecisionRequest:
		return wireMessage[V]{Kind: kindDecisionRequest, Epoch: v.Epoch}, nil
	case twopc.DecisionAck:
		return wireMessage[V]{Kind: kindDecisionAck, Epoch: v.Epoch}, nil
	default:
		return wireMessage[V]{}, fmt.Errorf("twopccodec: unsupported message type %T", m)
	}
}

func fromWireMessage[V any](w wireMessage[V]) (twopc.Message, error) {
	switch w.Kind {
	case kindVoteRequest:
		return twopc.VoteRequest[V]{Epoch: w.Epoch, Value: w.Value}, nil
	case kindVoteResponse:
		return twopc.VoteResponse{Epoch: w.Epoch, Vote: w.Vote}, nil
	case kindCommit:
		return twopc.Commit{Epoch: w.Epoch}, nil
	case kindAbort:
		return twopc.Abort{Epoch: w.Epoch}, nil
	case kindDecisionRequest:
		return twopc.DecisionRequest{Epoch: w.Epoch}, nil
	case kindDecisionAck:
		return twopc.DecisionAck{Epoch: w.Epoch}, nil
	default:
		return nil, fmt.Errorf("twopccodec: unknown message kind %d", w.Kind)
	}
}

type stateKind uint8

const (
	kindWaitingForStart stateKind = iota
	kindVoting
	kindWaitingForVote
	kindStateCommit
	kindStateAbort
	kindWaitingForDecisionAck
	kindWaitingForVoteRequest
	kindVoted
)

// wireState is the CBOR-serializable projection of twopc.State[T].
type wireState[T any] struct {
	Kind                 stateKind
	VoteTimeoutStart     T    `cbor:",omitempty"`
	AckTimeoutStart      T    `cbor:",omitempty"`
	DecisionTimeoutStart T    `cbor:",omitempty"`
	Vote                 bool `cbor:",omitempty"`
}

func toWireState[T any](s twopc.State[T]) (wireState[T], error) {
	switch v := s.(type) {
	case twopc.StateWaitingForStart:
		return wireState[T]{Kind: kindWaitingForStart}, nil
	case twopc.StateVoting[T]:
		return wireState[T]{Kind: kindVoting, VoteTimeoutStart: v.VoteTimeoutStart}, nil
	case twopc.StateWaitingForVote:
		return wireState[T]{Kind: kindWaitingForVote}, nil
	case twopc.StateCommit:
		return wireState[T]{Kind: kindStateCommit}, nil
	case twopc.StateAbort:
		return wireState[T]{Kind: kindStateAbort}, nil
	case twopc.StateWaitingForDecisionAck[T]:
		return wireState[T]{Kind: kindWaitingForDecisionAck, AckTimeoutStart: v.AckTimeoutStart}, nil
	case twopc.StateWaitingForVoteRequest:
		return wireState[T]{Kind: kindWaitingForVoteRequest}, nil
	case twopc.StateVoted[T]:
		return wireState[T]{Kind: kindVoted, Vote: v.Vote, DecisionTimeoutStart: v.DecisionTimeoutStart}, nil
	default:
		return wireState[T]{}, fmt.Errorf("twopccodec: unsupported state type %T", s)
	}
}

func fromWireState[T any](w wireState[T]) (twopc.State[T], error) {
	switch w.Kind {
	case kindWaitingForStart:
		return twopc.StateWaitingForStart{}, nil
	case kindVoting:
		return twopc.StateVoting[T]{VoteTimeoutStart: w.VoteTimeoutStart}, nil
	case kindWaitingForVote:
		return twopc.StateWaitingForVote{}, nil
	case kindStateCommit:
		return twopc.StateCommit{}, nil
	case kindStateAbort:
		return twopc.StateAbort{}, nil
	case kindWaitingForDecisionAck:
		return twopc.StateWaitingForDecisionAck[T]{AckTimeoutStart: w.AckTimeoutStart}, nil
	case kindWaitingForVoteRequest:
		return twopc.StateWaitingForVoteRequest{}, nil
	case kindVoted:
		return twopc.StateVoted[T]{Vote: w.Vote, DecisionTimeoutStart: w.DecisionTimeoutStart}, nil
	default:
		return nil, fmt.Errorf("twopccodec: unknown state kind %d", w.Kind)
	}
}

// wireParticipant is the CBOR-serializable projection of twopc.Participant[P].
type wireParticipant[P comparable] struct {
	Process     P
	Vote        *bool
	DecisionAck bool
}

// wireContext is the CBOR-serializable projection of twopc.Context[P, T].
type wireContext[P comparable, T any] struct {
	Alarm                *T
	Coordinator          P
	Epoch                twopc.Epoch
	LastCommitEpoch      *twopc.Epoch
	Participants         []wireParticipant[P] `cbor:",omitempty"`
	ParticipantProcesses []P                  `cbor:",omitempty"`
	State                wireState[T]
	ThisProcess          P
}

// MarshalContext encodes a twopc.Context[P, T] for durable storage.
func MarshalContext[P comparable, T any](ctx twopc.Context[P, T]) ([]byte, error) {
	ws, err := toWireState[T](ctx.State)
	if err != nil {
		return nil, err
	}
	w := wireContext[P, T]{
		Alarm:                ctx.Alarm,
		Coordinator:          ctx.Coordinator,
		Epoch:                ctx.Epoch,
		LastCommitEpoch:      ctx.LastCommitEpoch,
		ParticipantProcesses: ctx.ParticipantProcesses,
		State:                ws,
		ThisProcess:          ctx.ThisProcess,
	}
	if ctx.Participants != nil {
		w.Participants = make([]wireParticipant[P], len(ctx.Participants))
		for i, p := range ctx.Participants {
			w.Participants[i] = wireParticipant[P]{Process: p.Process, Vote: p.Vote, DecisionAck: p.DecisionAck}
		}
	}
	return cbor.Marshal(w)
}

// UnmarshalContext decodes a twopc.Context[P, T] previously encoded with
// MarshalContext.
func UnmarshalContext[P comparable, T any](data []byte) (twopc.Context[P, T], error) {
	var w wireContext[P, T]
	if err := cbor.Unmarshal(data, &w); err != nil {
		return twopc.Context[P, T]{}, fmt.Errorf("twopccodec: unmarshal context: %w", err)
	}
	state, err := fromWireState[T](w.State)
	if err != nil {
		return twopc.Context[P, T]{}, err
	}
	ctx := twopc.Context[P, T]{
		Alarm:                w.Alarm,
		Coordinator:          w.Coordinator,
		Epoch:                w.Epoch,
		LastCommitEpoch:      w.LastCommitEpoch,
		ParticipantProcesses: w.ParticipantProcesses,
		State:                state,
		ThisProcess:          w.ThisProcess,
	}
	if w.Participants != nil {
		ctx.Participants = make([]twopc.Participant[P], len(w.Participants))
		for i, p := range w.Participants {
			ctx.Participants[i] = twopc.Participant[P]{Process: p.Process, Vote: p.Vote, DecisionAck: p.DecisionAck}
		}
	}
	return ctx, nil
}
