package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/testinvoke/internal/invoker"
)

// RecordingBus is an invoker.MessageBus that keeps every message it sees.
//
// It can be told to reject a message kind, optionally only for one hook,
// which makes the invoker request cancellation.
//
// Thread-safety: safe for concurrent use via internal mutex.
type RecordingBus struct {
	mu       sync.Mutex
	messages []invoker.Message
	rejects  map[rejectKey]bool
	log      *Log
}

type rejectKey struct {
	kind invoker.MessageKind
	hook string
}

// NewRecordingBus creates a bus that accepts everything.
func NewRecordingBus() *RecordingBus {
	return &RecordingBus{rejects: make(map[rejectKey]bool)}
}

// WithLog also appends each message, formatted by Describe, to log. This
// interleaves bus traffic with hook and test calls recorded in the same log.
func (b *RecordingBus) WithLog(log *Log) *RecordingBus {
	b.log = log
	return b
}

// RejectKind makes Publish return false for every message of kind.
func (b *RecordingBus) RejectKind(kind invoker.MessageKind) *RecordingBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejects[rejectKey{kind: kind}] = true
	return b
}

// RejectHook makes Publish return false for kind messages about hook.
func (b *RecordingBus) RejectHook(kind invoker.MessageKind, hook string) *RecordingBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejects[rejectKey{kind: kind, hook: hook}] = true
	return b
}

// Publish records msg and reports whether it was accepted.
func (b *RecordingBus) Publish(msg invoker.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	if b.log != nil {
		b.log.Add(Describe(msg))
	}
	if b.rejects[rejectKey{kind: msg.Kind()}] {
		return false
	}
	return !b.rejects[rejectKey{kind: msg.Kind(), hook: invoker.HookOf(msg)}]
}

// Messages returns a copy of the recorded messages.
func (b *RecordingBus) Messages() []invoker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]invoker.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Kinds returns the kinds of the recorded messages in order.
func (b *RecordingBus) Kinds() []invoker.MessageKind {
	msgs := b.Messages()
	out := make([]invoker.MessageKind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind()
	}
	return out
}

// Trace returns Describe for each recorded message in order.
func (b *RecordingBus) Trace() []string {
	msgs := b.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = Describe(m)
	}
	return out
}

// Count returns how many messages of kind were recorded.
func (b *RecordingBus) Count(kind invoker.MessageKind) int {
	n := 0
	for _, k := range b.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// Describe formats msg as "kind" or "kind(hook)".
func Describe(msg invoker.Message) string {
	if hook := invoker.HookOf(msg); hook != "" {
		return fmt.Sprintf("%s(%s)", msg.Kind(), hook)
	}
	return string(msg.Kind())
}
