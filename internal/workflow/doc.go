// Package workflow implements the enrollment and authentication wizards as
// explicit state machines.
//
// Each machine processes one event at a time under its own lock, so every
// transition runs to completion before the next is considered. Camera
// acquisition and gateway round-trips run on their own goroutines and re-enter
// the machine as results tagged with the attempt that issued them; a result
// whose attempt is no longer current is discarded. A machine has at most one
// such operation in flight.
//
// The camera handle is owned by the machine for as long as it is in a capturing
// state and is released on every way out of it, including Close.
package workflow
