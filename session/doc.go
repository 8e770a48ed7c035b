// Package session implements the class session controller: a per-group
// finite-state machine cycling Lecture, Question, Group and Summary, and the
// table of topics each role may emit in each phase.
package session
