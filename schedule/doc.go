// Package schedule derives scheduled events from simulated time: the daily
// routine, the weekly timetable, reviews, daily tests and day transitions.
package schedule
