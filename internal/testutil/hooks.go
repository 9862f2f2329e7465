package testutil

import (
	"sync"

	"github.com/roach88/testinvoke/internal/invoker"
)

// Log is an ordered, thread-safe list of events shared by test doubles so
// that their relative order can be asserted.
type Log struct {
	mu      sync.Mutex
	entries []string
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Add appends entry.
func (l *Log) Add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the log.
func (l *Log) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// RecordingHook is an invoker.Hook that logs "before:<name>" and
// "after:<name>" and can be made to fail either call.
type RecordingHook struct {
	HookName  string
	Log       *Log
	BeforeErr error
	AfterErr  error

	// PanicBefore makes Before panic with this value instead of returning.
	PanicBefore any
}

// NewRecordingHook creates a hook that succeeds.
func NewRecordingHook(name string, log *Log) *RecordingHook {
	return &RecordingHook{HookName: name, Log: log}
}

// Name implements the optional naming capability used by invoker.HookName.
func (h *RecordingHook) Name() string { return h.HookName }

// Before implements invoker.Hook.
func (h *RecordingHook) Before(*invoker.TestMethod) error {
	h.Log.Add("before:" + h.HookName)
	if h.PanicBefore != nil {
		panic(h.PanicBefore)
	}
	return h.BeforeErr
}

// After implements invoker.Hook.
func (h *RecordingHook) After(*invoker.TestMethod) error {
	h.Log.Add("after:" + h.HookName)
	return h.AfterErr
}

// Hooks converts recording hooks to the invoker.Hook slice a Request takes.
func Hooks(hs ...*RecordingHook) []invoker.Hook {
	out := make([]invoker.Hook, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}
