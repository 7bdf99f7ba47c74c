package twopc

// Engine is the pure, side-effect-free two-phase-commit state machine.
// It owns no goroutines, sockets, timers, or storage — the embedder
// feeds it one Event at a time against the current Context and applies
// the returned Action list, in order, before feeding the next Event.
//
// P is the process identity type, V is the value type being agreed on,
// and T is the time-instant type used to stamp timeout windows.
type Engine[P comparable, V any, T Time[T]] struct {
	coordinator *CoordinatorAlgorithm[P, V, T]
	participant *ParticipantAlgorithm[P, V, T]
}

// NewEngine returns an Engine that stamps timeouts using timeSource.
func NewEngine[P comparable, V any, T Time[T]](timeSource TimeSource[T]) *Engine[P, V, T] {
	return &Engine[P, V, T]{
		coordinator: NewCoordinatorAlgorithm[P, V, T](timeSource),
		participant: NewParticipantAlgorithm[P, V, T](timeSource),
	}
}

// Event consumes evt against ctx and returns the ordered Action list
// the embedder must apply. Which half of the protocol runs is decided
// by ctx.IsCoordinator; an Event illegal for that role (e.g. Start
// delivered to a participant, or a message only the other role can
// receive) yields an InvalidState error rather than a panic.
func (e *Engine[P, V, T]) Event(evt Event, ctx Context[P, T]) ([]Action[P, T], error) {
	if ctx.IsCoordinator() {
		cevt, err := asCoordinatorEvent[P](evt)
		if err != nil {
			return nil, err
		}
		cctx, err := AsCoordinatorContext(ctx)
		if err != nil {
			return nil, err
		}
		return e.coordinator.Event(cevt, cctx)
	}

	pevt, err := asParticipantEvent[P, V](evt)
	if err != nil {
		return nil, err
	}
	pctx, err := AsParticipantContext(ctx)
	if err != nil {
		return nil, err
	}
	return e.participant.Event(pevt, pctx)
}
