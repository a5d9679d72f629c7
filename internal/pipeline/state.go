package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is a step of the per-book state machine.
type State int

const (
	NotStarted State = iota
	MetadataFetched
	ResourcesCollected
	LinksResolved
	Assembled
	Validated
	Done
	Failed
	Skipped
)

var stateNames = [...]string{
	NotStarted:         "not-started",
	MetadataFetched:    "metadata-fetched",
	ResourcesCollected: "resources-collected",
	LinksResolved:      "links-resolved",
	Assembled:          "assembled",
	Validated:          "validated",
	Done:               "done",
	Failed:             "failed",
	Skipped:            "skipped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Skipped
}

// Format is the kind of artifact a run produces.
type Format string

const (
	FormatHTML Format = "html"
	FormatEPUB Format = "epub"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a config value to a Format. Empty means FormatEPUB.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatEPUB, nil
	case FormatHTML, FormatEPUB, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Ext returns the file extension of the artifact, without the dot.
func (f Format) Ext() string {
	return string(f)
}

// Event is emitted on every state transition of a run.
type Event struct {
	RunID  string
	BookID string
	Title  string
	Format Format
	From   State
	To     State
	Output string
	Err    error
	At     time.Time
}

// Observer receives run events. Observe must not block for long; it is
// called synchronously from the book's goroutine.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}
