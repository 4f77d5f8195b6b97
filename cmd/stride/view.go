package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"stride/conversation"
	"stride/runs"
)

// consoleView prints what changed since the previous snapshot.
type consoleView struct {
	mu  sync.Mutex
	out io.Writer

	messages  int
	calls     int
	err       string
	connected bool
	listening bool
	speaking  bool
}

func newConsoleView(out io.Writer) *consoleView {
	return &consoleView{out: out}
}

func (v *consoleView) render(snap conversation.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.Connected != v.connected {
		v.connected = snap.Connected
		if snap.Connected {
			fmt.Fprintln(v.out, "* connected")
		} else {
			fmt.Fprintln(v.out, "* disconnected")
		}
	}
	if snap.Listening != v.listening {
		v.listening = snap.Listening
		if snap.Listening {
			fmt.Fprintln(v.out, "* listening, press Enter to stop")
		} else {
			fmt.Fprintln(v.out, "* stopped listening")
		}
	}
	if snap.Speaking != v.speaking {
		v.speaking = snap.Speaking
		if snap.Speaking {
			fmt.Fprintln(v.out, "* coach speaking")
		}
	}

	// History only grows within a session.
	for _, m := range snap.Messages[min(v.messages, len(snap.Messages)):] {
		who := "you"
		if m.Role == conversation.RoleAssistant {
			who = "coach"
		}
		fmt.Fprintf(v.out, "%s: %s\n", who, m.Content)
	}
	v.messages = len(snap.Messages)

	for _, c := range snap.FunctionCalls[min(v.calls, len(snap.FunctionCalls)):] {
		fmt.Fprintf(v.out, "[%s] %s %s -> %s\n", c.Timestamp.Format(time.Kitchen), c.Name, compact(c.Arguments), compact(c.Result))
	}
	v.calls = len(snap.FunctionCalls)

	if snap.Error != v.err {
		v.err = snap.Error
		if snap.Error != "" {
			fmt.Fprintf(v.out, "! %s\n", snap.Error)
		}
	}
}

func (v *consoleView) printRuns(list []runs.Run) {
	week := runs.SummarizeWeek(list, time.Now())

	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "This week: %d runs, %.1f mi, %s\n", week.Runs, week.Miles, runs.FormatDuration(week.Minutes))
	for _, r := range list {
		line := fmt.Sprintf("  %s  %.2f mi  %s", r.RunDate, r.DistanceMiles, runs.FormatDuration(r.DurationMinutes))
		if r.PacePerMile != "" {
			line += "  " + r.PacePerMile + "/mi"
		}
		if r.Notes != "" {
			line += "  " + r.Notes
		}
		fmt.Fprintln(v.out, line)
	}
}

func (v *consoleView) printGoals(goals []runs.Goal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(goals) == 0 {
		fmt.Fprintln(v.out, "No upcoming races.")
		return
	}
	for _, g := range goals {
		line := fmt.Sprintf("  %s  %s  %.1f mi", g.RaceDate, g.RaceName, g.DistanceMiles)
		if g.TargetTime != "" {
			line += "  target " + g.TargetTime
		}
		fmt.Fprintln(v.out, line)
	}
}

func (v *consoleView) printf(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
