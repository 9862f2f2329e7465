package demo

import (
	"errors"
	"io"
	"log/slog"

	"github.com/roach88/testinvoke/internal/harness"
	"github.com/roach88/testinvoke/internal/invoker"
)

// LoggingHook logs each test method before and after it runs.
type LoggingHook struct {
	Logger *slog.Logger
}

// Name implements the naming capability used by invoker.HookName.
func (LoggingHook) Name() string { return "trace" }

// Before implements invoker.Hook.
func (h LoggingHook) Before(m *invoker.TestMethod) error {
	h.Logger.Debug("before test", "method", m.Name)
	return nil
}

// After implements invoker.Hook.
func (h LoggingHook) After(m *invoker.TestMethod) error {
	h.Logger.Debug("after test", "method", m.Name)
	return nil
}

// RefusingHook fails its Before, so the test never runs.
type RefusingHook struct{}

// Name implements the naming capability used by invoker.HookName.
func (RefusingHook) Name() string { return "refuse" }

// Before implements invoker.Hook.
func (RefusingHook) Before(*invoker.TestMethod) error {
	return errors.New("hook refused to run the test")
}

// After implements invoker.Hook.
func (RefusingHook) After(*invoker.TestMethod) error { return nil }

// Registry returns a registry holding every demo class and hook.
// Hooks log through logger; nil discards.
func Registry(logger *slog.Logger) *harness.Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg := harness.NewRegistry()

	must(reg.RegisterClass(invoker.ClassOf[Calculator]("Calculator"),
		&invoker.TestMethod{Name: "Add", Func: Calculator.Add},
		&invoker.TestMethod{Name: "Divide", Func: Calculator.Divide},
		&invoker.TestMethod{Name: "Sum", Func: Calculator.Sum},
	))
	must(reg.RegisterClass(invoker.NewTestClass("AsyncTests", NewAsyncTests),
		&invoker.TestMethod{Name: "Delayed", Func: (*AsyncTests).Delayed},
		&invoker.TestMethod{Name: "Channel", Func: (*AsyncTests).Channel},
		&invoker.TestMethod{Name: "Group", Func: (*AsyncTests).Group},
		&invoker.TestMethod{Name: "FireAndForget", Func: (*AsyncTests).FireAndForget, AsyncVoid: true},
		&invoker.TestMethod{Name: "Forgotten", Func: (*AsyncTests).Forgotten},
	))
	must(reg.RegisterClass(invoker.NewTestClass("Connection", NewConnection),
		&invoker.TestMethod{Name: "Query", Func: (*Connection).Query},
		&invoker.TestMethod{Name: "Ping", Func: Ping, Static: true},
	))

	must(reg.RegisterHook("trace", func() invoker.Hook { return LoggingHook{Logger: logger} }))
	must(reg.RegisterHook("refuse", func() invoker.Hook { return RefusingHook{} }))
	return reg
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
