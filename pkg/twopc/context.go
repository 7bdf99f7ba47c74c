package twopc

import "github.com/hashicorp/go-multierror"

// Participant is the coordinator's bookkeeping record for one participant
// process. Vote is nil until a VoteResponse has been recorded for the
// current epoch; DecisionAck is false until a DecisionAck has been
// recorded. Both are reset whenever the epoch advances.
type Participant[P comparable] struct {
	Process     P
	Vote        *bool
	DecisionAck bool
}

// NewParticipant returns a Participant record for process with no
// recorded vote or ack.
func NewParticipant[P comparable](process P) Participant[P] {
	return Participant[P]{Process: process}
}

func (p Participant[P]) clone() Participant[P] {
	out := Participant[P]{Process: p.Process, DecisionAck: p.DecisionAck}
	if p.Vote != nil {
		v := *p.Vote
		out.Vote = &v
	}
	return out
}

// Context is the unified, dual-role persistent state of one process in
// the protocol. Exactly one of Participants (coordinator role) or
// ParticipantProcesses (participant role) is set (I6); which one is set
// is determined by whether ThisProcess equals Coordinator. State must be
// legal for that role (I7). Build a Context with ContextBuilder rather
// than constructing it directly, so these invariants are checked once at
// construction time.
type Context[P comparable, T any] struct {
	Alarm                *T
	Coordinator          P
	Epoch                Epoch
	LastCommitEpoch       *Epoch
	Participants         []Participant[P]
	ParticipantProcesses []P
	State                State[T]
	ThisProcess          P
}

// IsCoordinator reports whether ThisProcess is acting as coordinator for
// this context.
func (c Context[P, T]) IsCoordinator() bool {
	return c.ThisProcess == c.Coordinator
}

// Clone returns a deep copy of c, safe to mutate independently of the
// original. Every Action carrying a Context is built from a clone so that
// earlier entries in an action list never alias state mutated later in
// the same call.
func (c Context[P, T]) Clone() Context[P, T] {
	out := c
	if c.Alarm != nil {
		a := *c.Alarm
		out.Alarm = &a
	}
	if c.LastCommitEpoch != nil {
		e := *c.LastCommitEpoch
		out.LastCommitEpoch = &e
	}
	if c.Participants != nil {
		out.Participants = make([]Participant[P], len(c.Participants))
		for i, p := range c.Participants {
			out.Participants[i] = p.clone()
		}
	}
	if c.ParticipantProcesses != nil {
		out.ParticipantProcesses = append([]P(nil), c.ParticipantProcesses...)
	}
	return out
}

// CoordinatorContext is the coordinator-role projection of Context: the
// role data is a participant roster rather than a bare process list, and
// State must be one of the coordinator-legal variants.
type CoordinatorContext[P comparable, T any] struct {
	Alarm           *T
	Coordinator     P
	Epoch           Epoch
	LastCommitEpoch *Epoch
	Participants    []Participant[P]
	State           State[T]
	ThisProcess     P
}

// Clone returns a deep copy of c.
func (c CoordinatorContext[P, T]) Clone() CoordinatorContext[P, T] {
	out := c
	if c.Alarm != nil {
		a := *c.Alarm
		out.Alarm = &a
	}
	if c.LastCommitEpoch != nil {
		e := *c.LastCommitEpoch
		out.LastCommitEpoch = &e
	}
	out.Participants = make([]Participant[P], len(c.Participants))
	for i, p := range c.Participants {
		out.Participants[i] = p.clone()
	}
	return out
}

// ToContext lifts a CoordinatorContext back to the unified Context.
func (c CoordinatorContext[P, T]) ToContext() Context[P, T] {
	return Context[P, T]{
		Alarm:           c.Alarm,
		Coordinator:     c.Coordinator,
		Epoch:           c.Epoch,
		LastCommitEpoch: c.LastCommitEpoch,
		Participants:    c.Participants,
		State:           c.State,
		ThisProcess:     c.ThisProcess,
	}
}

// AsCoordinatorContext projects a unified Context onto the coordinator
// role, failing with InvalidState if ctx was built for a participant.
func AsCoordinatorContext[P comparable, T any](ctx Context[P, T]) (CoordinatorContext[P, T], error) {
	if !ctx.IsCoordinator() {
		return CoordinatorContext[P, T]{}, invalidState(
			"unable to convert Context to CoordinatorContext: role context is Participant")
	}
	state, err := asCoordinatorState(ctx.State)
	if err != nil {
		return CoordinatorContext[P, T]{}, err
	}
	return CoordinatorContext[P, T]{
		Alarm:           ctx.Alarm,
		Coordinator:     ctx.Coordinator,
		Epoch:           ctx.Epoch,
		LastCommitEpoch: ctx.LastCommitEpoch,
		Participants:    ctx.Participants,
		State:           state,
		ThisProcess:     ctx.ThisProcess,
	}, nil
}

// ParticipantContext is the participant-role projection of Context: the
// role data is a plain process list, and State must be one of the
// participant-legal variants.
type ParticipantContext[P comparable, T any] struct {
	Alarm                *T
	Coordinator          P
	Epoch                Epoch
	LastCommitEpoch      *Epoch
	ParticipantProcesses []P
	State                State[T]
	ThisProcess          P
}

// Clone returns a deep copy of c.
func (c ParticipantContext[P, T]) Clone() ParticipantContext[P, T] {
	out := c
	if c.Alarm != nil {
		a := *c.Alarm
		out.Alarm = &a
	}
	if c.LastCommitEpoch != nil {
		e := *c.LastCommitEpoch
		out.LastCommitEpoch = &e
	}
	out.ParticipantProcesses = append([]P(nil), c.ParticipantProcesses...)
	return out
}

// ToContext lifts a ParticipantContext back to the unified Context.
func (c ParticipantContext[P, T]) ToContext() Context[P, T] {
	return Context[P, T]{
		Alarm:                c.Alarm,
		Coordinator:          c.Coordinator,
		Epoch:                c.Epoch,
		LastCommitEpoch:      c.LastCommitEpoch,
		ParticipantProcesses: c.ParticipantProcesses,
		State:                c.State,
		ThisProcess:          c.ThisProcess,
	}
}

// AsParticipantContext projects a unified Context onto the participant
// role, failing with InvalidState if ctx was built for a coordinator.
func AsParticipantContext[P comparable, T any](ctx Context[P, T]) (ParticipantContext[P, T], error) {
	if ctx.IsCoordinator() {
		return ParticipantContext[P, T]{}, invalidState(
			"unable to convert Context to ParticipantContext: role context is Coordinator")
	}
	state, err := asParticipantState(ctx.State)
	if err != nil {
		return ParticipantContext[P, T]{}, err
	}
	return ParticipantContext[P, T]{
		Alarm:                ctx.Alarm,
		Coordinator:          ctx.Coordinator,
		Epoch:                ctx.Epoch,
		LastCommitEpoch:      ctx.LastCommitEpoch,
		ParticipantProcesses: ctx.ParticipantProcesses,
		State:                state,
		ThisProcess:          ctx.ThisProcess,
	}, nil
}

// ContextBuilder validates construction of a Context: exactly one of
// WithParticipants or WithParticipantProcesses must be supplied, and the
// required fields (Coordinator, Epoch, State, ThisProcess) must all be
// set before Build.
type ContextBuilder[P comparable, T any] struct {
	alarm                *T
	coordinator          *P
	epoch                *Epoch
	lastCommitEpoch      *Epoch
	participants         []Participant[P]
	participantProcesses []P
	state                State[T]
	thisProcess          *P

	haveParticipants         bool
	haveParticipantProcesses bool
}

// NewContextBuilder returns an empty ContextBuilder.
func NewContextBuilder[P comparable, T any]() *ContextBuilder[P, T] {
	return &ContextBuilder[P, T]{}
}

// WithAlarm sets the initial alarm.
func (b *ContextBuilder[P, T]) WithAlarm(alarm T) *ContextBuilder[P, T] {
	b.alarm = &alarm
	return b
}

// WithCoordinator sets the coordinator process.
func (b *ContextBuilder[P, T]) WithCoordinator(coordinator P) *ContextBuilder[P, T] {
	b.coordinator = &coordinator
	return b
}

// WithEpoch sets the starting epoch.
func (b *ContextBuilder[P, T]) WithEpoch(epoch Epoch) *ContextBuilder[P, T] {
	b.epoch = &epoch
	return b
}

// WithLastCommitEpoch sets the last epoch known to have committed.
func (b *ContextBuilder[P, T]) WithLastCommitEpoch(epoch Epoch) *ContextBuilder[P, T] {
	b.lastCommitEpoch = &epoch
	return b
}

// WithParticipants configures a coordinator-role context with the given
// participant roster. Mutually exclusive with WithParticipantProcesses.
func (b *ContextBuilder[P, T]) WithParticipants(participants []Participant[P]) *ContextBuilder[P, T] {
	b.participants = participants
	b.haveParticipants = true
	return b
}

// WithParticipantProcesses configures a participant-role context with the
// given peer process list. Mutually exclusive with WithParticipants.
func (b *ContextBuilder[P, T]) WithParticipantProcesses(processes []P) *ContextBuilder[P, T] {
	b.participantProcesses = processes
	b.haveParticipantProcesses = true
	return b
}

// WithState sets the initial state.
func (b *ContextBuilder[P, T]) WithState(state State[T]) *ContextBuilder[P, T] {
	b.state = state
	return b
}

// WithThisProcess sets the process building the context.
func (b *ContextBuilder[P, T]) WithThisProcess(process P) *ContextBuilder[P, T] {
	b.thisProcess = &process
	return b
}

// Build validates and returns the assembled Context, or an InvalidState
// error listing every missing or conflicting field.
func (b *ContextBuilder[P, T]) Build() (Context[P, T], error) {
	var result *multierror.Error
	if b.coordinator == nil {
		result = multierror.Append(result, invalidState("missing required field: coordinator"))
	}
	if b.epoch == nil {
		result = multierror.Append(result, invalidState("missing required field: epoch"))
	}
	if b.state == nil {
		result = multierror.Append(result, invalidState("missing required field: state"))
	}
	if b.thisProcess == nil {
		result = multierror.Append(result, invalidState("missing required field: this_process"))
	}
	switch {
	case b.haveParticipants && b.haveParticipantProcesses:
		result = multierror.Append(result, invalidState(
			"participants and participant_processes fields are mutually exclusive"))
	case !b.haveParticipants && !b.haveParticipantProcesses:
		result = multierror.Append(result, invalidState(
			"exactly one of participants or participant_processes fields required"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return Context[P, T]{}, err
	}

	ctx := Context[P, T]{
		Alarm:           b.alarm,
		Coordinator:     *b.coordinator,
		Epoch:           *b.epoch,
		LastCommitEpoch: b.lastCommitEpoch,
		State:           b.state,
		ThisProcess:     *b.thisProcess,
	}
	if b.haveParticipants != ctx.IsCoordinator() {
		return Context[P, T]{}, invalidState(
			"participants must be set exactly when this_process is the coordinator")
	}
	if b.haveParticipants {
		ctx.Participants = b.participants
		if _, err := asCoordinatorState(ctx.State); err != nil {
			return Context[P, T]{}, err
		}
	} else {
		ctx.ParticipantProcesses = b.participantProcesses
		if _, err := asParticipantState(ctx.State); err != nil {
			return Context[P, T]{}, err
		}
	}
	return ctx, nil
}
