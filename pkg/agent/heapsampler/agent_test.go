package heapsampler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/daimatz/gojvmti/pkg/jvmti"
)

type fakeEnv struct {
	jvmti.Env

	caps      jvmti.Capabilities
	callbacks jvmti.EventCallbacks
	enabled   map[jvmti.EventKind]bool
	interval  int64

	// trace is returned innermost-first, the way hosts report stacks.
	trace []jvmti.FrameInfo
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{enabled: make(map[jvmti.EventKind]bool)}
}

func (e *fakeEnv) AddCapabilities(caps jvmti.Capabilities) error {
	e.caps = caps
	return nil
}

func (e *fakeEnv) SetEventCallbacks(callbacks jvmti.EventCallbacks) {
	e.callbacks = callbacks
}

func (e *fakeEnv) SetEventNotificationMode(enable bool, kind jvmti.EventKind) {
	e.enabled[kind] = enable
}

func (e *fakeEnv) SetHeapSamplingInterval(interval int64) error {
	e.interval = interval
	return nil
}

func (e *fakeEnv) GetStackTrace(thread jvmti.Thread, start, maxCount int) ([]jvmti.FrameInfo, error) {
	return e.trace, nil
}

func (e *fakeEnv) GetMethodName(method jvmti.Method) (string, string, error) {
	s, ok := method.(string)
	if !ok {
		return "", "", jvmti.ErrAbsentInformation
	}
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return s, "()V", nil
	}
	return s[i+1:], "()V", nil
}

func (e *fakeEnv) GetMethodDeclaringClass(method jvmti.Method) (jvmti.Class, error) {
	s := method.(string)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return nil, jvmti.ErrAbsentInformation
	}
	return s[:i], nil
}

func (e *fakeEnv) GetClassName(class jvmti.Class) (string, error) {
	return class.(string), nil
}

// stack builds a trace from "Class.method" labels, innermost first.
func stack(labels ...string) []jvmti.FrameInfo {
	trace := make([]jvmti.FrameInfo, len(labels))
	for i, l := range labels {
		trace[i] = jvmti.FrameInfo{Method: l}
	}
	return trace
}

func TestLoadConfiguresSampling(t *testing.T) {
	env := newFakeEnv()
	a, err := Load(env, nil, 1024)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a == nil {
		t.Fatal("Load returned nil agent")
	}
	if !env.caps.CanGenerateSampledObjectAllocEvents {
		t.Error("alloc capability not requested")
	}
	if env.interval != 1024 {
		t.Errorf("sampling interval: got %d, want 1024", env.interval)
	}
	for _, kind := range []jvmti.EventKind{
		jvmti.EventSampledObjectAlloc,
		jvmti.EventDataDumpRequest,
		jvmti.EventVMDeath,
	} {
		if !env.enabled[kind] {
			t.Errorf("event %v not enabled", kind)
		}
	}
}

func TestAllocAggregatesByStack(t *testing.T) {
	env := newFakeEnv()
	a, err := Load(env, nil, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	env.trace = stack("Main.alloc", "Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 48)
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 16)

	env.trace = stack("Main.other", "Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 32)

	entries := a.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	// sorted by stack string: Main.main;Main.alloc < Main.main;Main.other
	if entries[0].Stack != "Main.main;Main.alloc" || entries[0].Bytes != 64 || entries[0].Samples != 2 {
		t.Errorf("first entry: %+v", entries[0])
	}
	if entries[1].Stack != "Main.main;Main.other" || entries[1].Bytes != 32 || entries[1].Samples != 1 {
		t.Errorf("second entry: %+v", entries[1])
	}
}

func TestAllocRecordsClassAsLeaf(t *testing.T) {
	env := newFakeEnv()
	a, err := Load(env, nil, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	env.trace = stack("Main.alloc", "Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, "java/util/HashMap", 48)

	entries := a.Entries()
	if len(entries) != 1 || entries[0].Stack != "Main.main;Main.alloc;java/util/HashMap" {
		t.Errorf("entries: %+v", entries)
	}
}

func TestFrameLabelDegradation(t *testing.T) {
	env := newFakeEnv()
	a, err := Load(env, nil, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// クラスが引けないフレームはメソッド名だけになる
	env.trace = stack("bareMethod")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 8)

	entries := a.Entries()
	if len(entries) != 1 || entries[0].Stack != "bareMethod" {
		t.Errorf("entries: %+v", entries)
	}
}

func TestDumpCollapsedFormat(t *testing.T) {
	env := newFakeEnv()
	a, err := Load(env, nil, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	env.trace = stack("Main.alloc", "Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 48)
	env.trace = stack("Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 16)

	var buf bytes.Buffer
	if err := a.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	want := "Main.main 16\nMain.main;Main.alloc 48\n"
	if buf.String() != want {
		t.Errorf("Dump output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestDataDumpRequestFlushes(t *testing.T) {
	var buf bytes.Buffer
	env := newFakeEnv()
	_, err := Load(env, &buf, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	env.trace = stack("Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 24)
	env.callbacks.DataDumpRequest(env)

	if got := buf.String(); got != "Main.main 24\n" {
		t.Errorf("dump on request: %q", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := newFakeEnv()
	a, err := Load(env, nil, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	env.trace = stack("Main.alloc", "Main.main")
	env.callbacks.SampledObjectAlloc(env, nil, nil, nil, 48)

	var buf bytes.Buffer
	if err := a.WriteSnapshot(&buf); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	snap, err := ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Version != snapshotVersion {
		t.Errorf("version: got %d, want %d", snap.Version, snapshotVersion)
	}
	if len(snap.Entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(snap.Entries))
	}
	e := snap.Entries[0]
	if e.Stack != "Main.main;Main.alloc" || e.Samples != 1 || e.Bytes != 48 {
		t.Errorf("entry: %+v", e)
	}
}

func TestReadSnapshotRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(Snapshot{Version: 99}); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := ReadSnapshot(&buf); err == nil {
		t.Error("expected version mismatch error")
	} else if !strings.Contains(err.Error(), "version") {
		t.Errorf("error does not mention version: %v", err)
	}
}
