// Package twopc implements the Two-Phase Commit atomic commitment protocol
// as a side-effect-free state machine.
//
// Following Bernstein, Hadzilacos, and Goodman, Concurrency Control and
// Recovery in Database Systems, §7.4, the engine agrees on a single value
// per epoch and advances the epoch on every decision, allowing continuous
// operation over a sequence of values.
//
// The engine performs no I/O. Given an Event and a Context it returns an
// ordered list of Actions; the embedder is responsible for networking,
// timers, durable storage of the Context, and the local vote decision.
package twopc
