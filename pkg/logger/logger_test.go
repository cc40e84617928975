package logger

import (
	"reflect"
	"testing"
)

type recordedCall struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	calls []recordedCall
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.calls = append(r.calls, recordedCall{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestLoggerDispatchesToAllInstances(t *testing.T) {
	a := &recorder{}
	b := &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Log("plain", "k", 1)
	Info("info", "k", 2)
	Error("error")

	want := []recordedCall{
		{level: "log", message: "plain", keyvals: []any{"k", 1}},
		{level: "info", message: "info", keyvals: []any{"k", 2}},
		{level: "error", message: "error", keyvals: nil},
	}
	for _, r := range []*recorder{a, b} {
		if !reflect.DeepEqual(r.calls, want) {
			t.Fatalf("unexpected calls: got %#v want %#v", r.calls, want)
		}
	}
}

func TestLoggerWithoutInitIsNoop(t *testing.T) {
	Init()
	Warn("nobody listens")
	Debug("still nobody")
}
