package tool

import (
	"fmt"
	"strings"

	"github.com/hupe1980/classmesh/core"
)

// Built-in tool names.
const (
	NameGetTime         = "get_time"
	NameGetSchedule     = "get_schedule"
	NameGetRecentMemory = "get_recent_memory"
)

// DefaultMemoryLimit is used when get_recent_memory is called without a limit.
const DefaultMemoryLimit = 5

type scheduleArgs struct {
	Group string `json:"group,omitempty" description:"Group to list; defaults to your own"`
}

type memoryArgs struct {
	Limit int `json:"limit,omitempty" minimum:"1" maximum:"20" description:"How many entries to return"`
}

// Defaults returns the built-in tool set.
func Defaults() *Set {
	return NewSet(GetTime(), GetSchedule(), GetRecentMemory())
}

// GetTime reports the simulated clock.
func GetTime() *FunctionTool {
	return NewFunctionTool(NameGetTime, "Get the current simulated date and time.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *Context, _ map[string]any) (any, error) {
			if tc.Env() == nil {
				return nil, NewToolError(NameGetTime, "simulation unavailable", "UNAVAILABLE")
			}
			return FormatTime(tc.Env().SimTime()), nil
		})
}

// FormatTime renders a SimTime for prompts, e.g.
// "Mon 2025-09-01 12:00 (week 1, A, teaching)".
func FormatTime(st core.SimTime) string {
	return fmt.Sprintf("%s %s %s (week %d, %s, %s)", st.Weekday, st.Date, st.ClockTime, st.WeekIndex, st.WeekType, st.WeekMode)
}

// GetSchedule lists the timetable of a group, defaulting to the caller's.
func GetSchedule() *FunctionTool {
	return NewFunctionToolFromStruct(NameGetSchedule, "List the upcoming timetable of a group.", scheduleArgs{},
		func(tc *Context, args map[string]any) (any, error) {
			group, _ := args["group"].(string)
			if group == "" {
				group = tc.Group()
			}
			if group == "" {
				return "no group provided", nil
			}
			if tc.Env() == nil {
				return nil, NewToolError(NameGetSchedule, "simulation unavailable", "UNAVAILABLE")
			}
			var items []string
			for _, e := range tc.Env().Timetable(group) {
				items = append(items, strings.TrimSpace(fmt.Sprintf("%s %s %s", strings.Join(e.Weekdays, ","), e.StartTime, e.Topic)))
			}
			if len(items) == 0 {
				return "no upcoming classes", nil
			}
			return strings.Join(items, "; "), nil
		})
}

// GetRecentMemory returns the caller's most recent memory lines.
func GetRecentMemory() *FunctionTool {
	return NewFunctionToolFromStruct(NameGetRecentMemory, "Recall your most recent memories.", memoryArgs{},
		func(tc *Context, args map[string]any) (any, error) {
			limit := DefaultMemoryLimit
			if v, ok := args["limit"].(float64); ok {
				limit = int(v)
			} else if v, ok := args["limit"].(int); ok {
				limit = v
			}
			if tc.Env() == nil {
				return "memory unavailable", nil
			}
			lines := tc.Env().RecentMemory(tc.AgentID(), limit)
			if len(lines) == 0 {
				return "no memory", nil
			}
			return strings.Join(lines, " | "), nil
		})
}
