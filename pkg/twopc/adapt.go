package twopc

// Adapted wraps an Engine with caller-supplied conversions so an
// embedder that only has pre-serialized representations (e.g. bytes
// decoded off a wire transport) can drive the engine without handling
// Event/Action directly. RE is the raw event representation and RA is
// the raw action representation.
//
// A conversion failure never corrupts engine state: DecodeEvent runs
// before the engine is touched, and EncodeAction runs only after the
// engine has already produced its full Action list. A failed encode
// surfaces an Internal error and returns no actions at all, so nothing
// from that call has been applied and ctx is still current.
type Adapted[RE, RA any] struct {
	DecodeEvent  func(RE) (Event, error)
	EncodeAction func(action interface{}) (RA, error)
}

// NewAdapted returns an Adapted wrapper using the given conversion
// functions. EncodeAction receives the concrete ActionUpdate[P, T] /
// ActionSendMessage[P] / ActionNotify value produced by the wrapped
// engine; the caller type-switches on it, since Go cannot express "any
// instantiation of Action[P, T]" as the parameter of a function value
// held on a type not itself parameterized over P and T.
func NewAdapted[RE, RA any](
	decodeEvent func(RE) (Event, error),
	encodeAction func(action interface{}) (RA, error),
) *Adapted[RE, RA] {
	return &Adapted[RE, RA]{DecodeEvent: decodeEvent, EncodeAction: encodeAction}
}

// RunEvent decodes rawEvt, runs it through engine against ctx, and
// encodes every resulting Action with a's EncodeAction. It is a
// package-level function rather than a method on Adapted because
// Engine carries its own type parameters (P, V, T) distinct from
// Adapted's (RE, RA), and Go methods cannot introduce additional type
// parameters.
func RunEvent[P comparable, V any, T Time[T], RE, RA any](
	a *Adapted[RE, RA],
	engine *Engine[P, V, T],
	rawEvt RE,
	ctx Context[P, T],
) ([]RA, error) {
	evt, err := a.DecodeEvent(rawEvt)
	if err != nil {
		return nil, internalError(err, "failed to decode event")
	}

	actions, err := engine.Event(evt, ctx)
	if err != nil {
		return nil, err
	}

	raw := make([]RA, 0, len(actions))
	for _, act := range actions {
		r, err := a.EncodeAction(act)
		if err != nil {
			return nil, internalError(err, "failed to encode action %T", act)
		}
		raw = append(raw, r)
	}
	return raw, nil
}
