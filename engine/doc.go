// Package engine runs the classroom simulation.
//
// An Engine owns every component of a run (registry, bus, world, perception,
// sessions, knowledge, context windows, schedule and store) and advances
// them in discrete ticks. Each tick follows the same barrier:
//
//	schedule ──► release agents ──► wait (timeout) ──► commit ──► persist
//
// Agents decide concurrently, each into a private outbox. Only the commit
// step hands their messages to the bus, in roster order, so a message sent
// in tick N is never drained before tick N+1. Messages are written to the
// store before the knowledge changes they caused.
//
// # Usage
//
//	eng, err := engine.New(sc, func(o *engine.Options) {
//	    o.Store = st
//	    o.Logger = logger
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	err = eng.Run(ctx, sc.Ticks)
//
// Run can be paused, resumed and stopped from other goroutines. Step runs a
// single tick and returns a TickReport, which is what tests use.
//
// # Callbacks
//
// A CallbackManager attaches hooks before a tick, after its commit and for
// every failed agent step. A BeforeTick callback returning an error rejects
// the tick before anything is scheduled.
//
// # Roster and configuration changes
//
// AddAgent, UpdateAgent, RemoveAgent and Reload take effect between ticks.
// A rejected Reload leaves the running configuration untouched.
package engine
