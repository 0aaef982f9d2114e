package events

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Log prints lifecycle events from sub until ctx is cancelled or sub is closed.
// Output lines are only printed when verbose is set.
func Log(ctx context.Context, sub <-chan Event, logger *log.Logger, verbose bool) {
	if logger == nil {
		logger = log.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if line := Format(event, verbose); line != "" {
				logger.Print(line)
			}
		}
	}
}

// Format renders a single event as a log line. It returns an empty string for
// events that are not worth printing.
func Format(event Event, verbose bool) string {
	switch e := event.(type) {
	case TaskStartingEvent:
		return "Starting '" + e.Task.Name + "'..."
	case TaskFinishedEvent:
		return "Finished '" + e.Task.Name + "' after " + formatDuration(e.Duration)
	case TaskErrorEvent:
		return "ERROR: '" + e.Task.Name + "' errored after " + formatDuration(e.Duration) + ": " + errString(e.Err)
	case TaskOutputEvent:
		if !verbose {
			return ""
		}
		return "[" + e.Name + "] " + e.Line
	case WatchTriggeredEvent:
		return "Change detected in " + e.Pattern + ", running " + strings.Join(e.Tasks, ", ")
	case RunFinishedEvent:
		if e.Err != nil {
			return ""
		}
		return "Run " + shortID(e.RunID) + " completed in " + formatDuration(e.Duration)
	case ErrorEvent:
		return "ERROR: " + e.Source + ": " + errString(e.Err)
	}
	return ""
}

// LogDropped prints a warning for events the bus dropped, one count per
// topic. Nothing is printed when dropped is empty.
func LogDropped(logger *log.Logger, dropped map[string]uint64) {
	if len(dropped) == 0 {
		return
	}
	if logger == nil {
		logger = log.Default()
	}
	topics := make([]string, 0, len(dropped))
	var total uint64
	for topic, n := range dropped {
		topics = append(topics, topic)
		total += n
	}
	sort.Strings(topics)
	parts := make([]string, 0, len(topics))
	for _, topic := range topics {
		parts = append(parts, fmt.Sprintf("%s: %d", topic, dropped[topic]))
	}
	logger.Printf("WARNING: event bus dropped %d events (%s)", total, strings.Join(parts, ", "))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
