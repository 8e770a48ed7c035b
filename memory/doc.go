// Package memory owns each agent's bounded working-memory window.
//
// A Manager keeps one Window per agent: an ordered list of recent items and a
// rolling summary. When the live item count exceeds the cap, the oldest
// items are folded into the summary by a Compactor before Observe returns,
// so a decision step never sees more than the cap. Summaries are loaded from
// and saved to a core.Store.
package memory
