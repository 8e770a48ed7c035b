// Package agent contains the per-agent runtime of the simulation and the
// parallel fan-out used by the tick barrier.
//
// A Runtime is the concurrent unit of work of one agent. Each tick it walks
// the states AwaitingTick, Draining, Deciding, Acting and Done:
//
//  1. Draining: take every inbound message from the bus and feed it, with the
//     tick's scheduled events, into the agent's context window
//  2. Deciding: query the session for the phase and allowed topics, then run
//     the decision strategy under a per-agent timeout
//  3. Acting: downgrade disallowed topics to noise and stage the messages in
//     the agent's outbox
//
// A timed out decision contributes nothing for that tick. A runtime that
// panics is recovered, counted and restarted on the next tick; after
// MaxRestarts it is disabled.
//
// RunParallel steps many runtimes concurrently and returns their results in
// input order so the engine can commit them deterministically.
package agent
