// Package core provides the foundational domain types and contracts shared by
// every classmesh component. It defines the core abstractions for:
//
//   - Agent profiles, roles and personas, held in a Registry keyed by agent id
//   - Messages, topics, visibility tags and world events
//   - SimTime, session phases and knowledge records
//   - The error taxonomy and non-fatal failure counters
//   - The persistence contract (Store) consumed by bus, memory and knowledge
//
// The package intentionally keeps implementation concerns (queues, scheduling,
// decision strategies, storage engines) out of scope, exposing small
// interfaces so each component can be swapped or tested in isolation.
package core
