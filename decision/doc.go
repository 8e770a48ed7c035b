// Package decision produces the outbound messages of one agent for one tick.
//
// A Strategy receives everything the agent may know at decision time (its
// profile, the simulated time, the session phase and allowed topics, the
// drained inbox, scheduled events, a context snapshot and a knowledge
// snapshot) and returns proposed messages plus requested knowledge changes.
// Proposals are only proposals: the agent runtime still enforces allowed
// topics and the engine applies knowledge changes at tick commit.
//
// Rules is the rule-based generator. It delegates to a role specific
// Behavior (TeacherBehavior, StudentBehavior) and never performs I/O unless
// a Composer is attached, in which case message text is written by a
// language model (ModelComposer) and the rule text becomes the fallback.
//
// Timed bounds any strategy with a per-call deadline and turns panics into
// errors so one agent can never stall or crash a tick.
package decision
