// Package notify carries user-facing messages out of the grid client
// components. The registry and cell synchronizer hand their outcome
// messages here instead of printing; the shell decides how to show them.
package notify

import (
	"fmt"
	"io"
	"sync"
)

// Notifier receives outcome messages. Implementations must be safe for
// concurrent use; the cell synchronizer calls from save goroutines.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// Stream writes one line per message, errors prefixed. gridctl points
// this at stderr.
type Stream struct {
	Out io.Writer
}

func (s Stream) Success(message string) {
	fmt.Fprintln(s.Out, message)
}

func (s Stream) Error(message string) {
	fmt.Fprintln(s.Out, "error: "+message)
}

// Discard drops every message.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Success(string) {}
func (discard) Error(string)   {}

// Recorder keeps every message for inspection in tests.
type Recorder struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (r *Recorder) Success(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, message)
}

func (r *Recorder) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *Recorder) Successes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.successes...)
}

func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
