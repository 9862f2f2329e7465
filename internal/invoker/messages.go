package invoker

// MessageBus receives lifecycle messages from a run.
//
// Publish returns false when the run should stop; the invoker then requests
// cancellation on the run's CancellationSignal. A bus is usually shared by
// many concurrent runs and must be safe for the caller's concurrency model.
type MessageBus interface {
	Publish(msg Message) bool
}

// MessageBusFunc adapts a function to MessageBus.
type MessageBusFunc func(Message) bool

// Publish calls f(msg).
func (f MessageBusFunc) Publish(msg Message) bool { return f(msg) }

// DiscardBus accepts and drops every message.
type DiscardBus struct{}

// Publish always returns true.
func (DiscardBus) Publish(Message) bool { return true }

// MessageKind names a lifecycle message.
type MessageKind string

const (
	KindClassConstructionStarting MessageKind = "class-construction-starting"
	KindClassConstructionFinished MessageKind = "class-construction-finished"
	KindBeforeHookStarting        MessageKind = "before-hook-starting"
	KindBeforeHookFinished        MessageKind = "before-hook-finished"
	KindAfterHookStarting         MessageKind = "after-hook-starting"
	KindAfterHookFinished         MessageKind = "after-hook-finished"
	KindClassDisposeStarting      MessageKind = "class-dispose-starting"
	KindClassDisposeFinished      MessageKind = "class-dispose-finished"
)

// Message is one of the lifecycle records defined in this package.
// The set is closed: only types in this package implement it.
type Message interface {
	Kind() MessageKind
	Ref() TestRef
	message()
}

// HookMessage is implemented by the before/after hook messages.
type HookMessage interface {
	Message
	Hook() string
}

// TestRef carries the unique identifiers of the test a message belongs to.
type TestRef struct {
	AssemblyID   string `json:"assembly_id"`
	CollectionID string `json:"collection_id"`
	ClassID      string `json:"class_id"`
	MethodID     string `json:"method_id"`
	CaseID       string `json:"case_id"`
	TestID       string `json:"test_id"`
}

// Ref returns the identifiers themselves.
func (r TestRef) Ref() TestRef { return r }

type hookName struct {
	HookName string `json:"hook_name"`
}

func (h hookName) Hook() string { return h.HookName }

// ClassConstructionStarting is published before the test class instance is created.
type ClassConstructionStarting struct{ TestRef }

// ClassConstructionFinished is published after construction, whether or not it succeeded.
type ClassConstructionFinished struct{ TestRef }

// BeforeHookStarting is published before a hook's Before runs.
type BeforeHookStarting struct {
	TestRef
	hookName
}

// BeforeHookFinished is published after a hook's Before returns.
type BeforeHookFinished struct {
	TestRef
	hookName
}

// AfterHookStarting is published before a hook's After runs.
type AfterHookStarting struct {
	TestRef
	hookName
}

// AfterHookFinished is published after a hook's After returns.
type AfterHookFinished struct {
	TestRef
	hookName
}

// ClassDisposeStarting is published before disposal of an instance that has a disposer.
type ClassDisposeStarting struct{ TestRef }

// ClassDisposeFinished is published after disposal, whether or not it succeeded.
type ClassDisposeFinished struct{ TestRef }

func (ClassConstructionStarting) Kind() MessageKind { return KindClassConstructionStarting }
func (ClassConstructionFinished) Kind() MessageKind { return KindClassConstructionFinished }
func (BeforeHookStarting) Kind() MessageKind        { return KindBeforeHookStarting }
func (BeforeHookFinished) Kind() MessageKind        { return KindBeforeHookFinished }
func (AfterHookStarting) Kind() MessageKind         { return KindAfterHookStarting }
func (AfterHookFinished) Kind() MessageKind         { return KindAfterHookFinished }
func (ClassDisposeStarting) Kind() MessageKind      { return KindClassDisposeStarting }
func (ClassDisposeFinished) Kind() MessageKind      { return KindClassDisposeFinished }

func (ClassConstructionStarting) message() {}
func (ClassConstructionFinished) message() {}
func (BeforeHookStarting) message()        {}
func (BeforeHookFinished) message()        {}
func (AfterHookStarting) message()         {}
func (AfterHookFinished) message()         {}
func (ClassDisposeStarting) message()      {}
func (ClassDisposeFinished) message()      {}

// NewHookMessage builds a hook message of the given kind. It returns nil for
// kinds that do not carry a hook name.
func NewHookMessage(kind MessageKind, ref TestRef, hook string) HookMessage {
	h := hookName{HookName: hook}
	switch kind {
	case KindBeforeHookStarting:
		return BeforeHookStarting{ref, h}
	case KindBeforeHookFinished:
		return BeforeHookFinished{ref, h}
	case KindAfterHookStarting:
		return AfterHookStarting{ref, h}
	case KindAfterHookFinished:
		return AfterHookFinished{ref, h}
	default:
		return nil
	}
}

// HookOf returns the hook name carried by msg, or "" if it carries none.
func HookOf(msg Message) string {
	if hm, ok := msg.(HookMessage); ok {
		return hm.Hook()
	}
	return ""
}
