// Package heapsampler records sampled object allocations against the
// allocating call stack and renders the aggregate as collapsed stacks,
// the input format flamegraph tooling consumes. A binary snapshot of
// the same data can be written for later processing.
package heapsampler

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/daimatz/gojvmti/pkg/jvmti"
)

// maxDepth bounds the recorded stack depth per sample.
const maxDepth = 64

// node is one frame in the aggregated stack tree. Children are keyed by
// the rendered frame label.
type node struct {
	children map[string]*node
	samples  int64
	bytes    int64
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Agent aggregates allocation samples. Callbacks run on the allocating
// thread, so the tree is guarded for the dump paths that may run from a
// signal-driven goroutine.
type Agent struct {
	mu   sync.Mutex
	root *node
	out  io.Writer
}

// Load registers the sampling callbacks. Samples aggregate until a data
// dump request or VM death flushes the collapsed stacks to out.
// interval is the average allocated bytes between samples; zero samples
// every allocation.
func Load(env jvmti.Env, out io.Writer, interval int64) (*Agent, error) {
	a := &Agent{root: newNode(), out: out}

	err := env.AddCapabilities(jvmti.Capabilities{
		CanGenerateSampledObjectAllocEvents: true,
	})
	if err != nil {
		return nil, fmt.Errorf("heapsampler: adding capabilities: %w", err)
	}
	env.SetEventCallbacks(jvmti.EventCallbacks{
		SampledObjectAlloc: a.onAlloc,
		DataDumpRequest:    a.onDataDump,
		VMDeath:            a.onVMDeath,
	})
	env.SetEventNotificationMode(true, jvmti.EventSampledObjectAlloc)
	env.SetEventNotificationMode(true, jvmti.EventDataDumpRequest)
	env.SetEventNotificationMode(true, jvmti.EventVMDeath)
	if err := env.SetHeapSamplingInterval(interval); err != nil {
		return nil, fmt.Errorf("heapsampler: setting sampling interval: %w", err)
	}
	return a, nil
}

// frameLabel renders a stack frame as Class.method, degrading to the
// bare method name when the declaring class is unavailable.
func frameLabel(env jvmti.Env, method jvmti.Method) string {
	name, _, err := env.GetMethodName(method)
	if err != nil {
		return "<unknown>"
	}
	class, err := env.GetMethodDeclaringClass(method)
	if err != nil {
		return name
	}
	className, err := env.GetClassName(class)
	if err != nil {
		return name
	}
	return className + "." + name
}

func (a *Agent) onAlloc(env jvmti.Env, thread jvmti.Thread, object jvmti.Object, class jvmti.Class, size int64) {
	trace, err := env.GetStackTrace(thread, 0, maxDepth)
	if err != nil || len(trace) == 0 {
		return
	}

	// Stacks are recorded root-first so shared prefixes merge.
	labels := make([]string, 0, len(trace)+1)
	for i := len(trace) - 1; i >= 0; i-- {
		labels = append(labels, frameLabel(env, trace[i].Method))
	}
	// The allocated class becomes the leaf, so one allocation site can
	// split by type.
	if class != nil {
		if name, err := env.GetClassName(class); err == nil {
			labels = append(labels, name)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.root
	for _, label := range labels {
		child, ok := n.children[label]
		if !ok {
			child = newNode()
			n.children[label] = child
		}
		n = child
	}
	n.samples++
	n.bytes += size
}

func (a *Agent) onDataDump(env jvmti.Env) {
	if a.out != nil {
		_ = a.Dump(a.out)
	}
}

func (a *Agent) onVMDeath(env jvmti.Env) {
	if a.out != nil {
		_ = a.Dump(a.out)
	}
}

// Dump writes the aggregate as collapsed stacks, one line per unique
// stack: semicolon-joined frames, a space, and the sampled byte count.
// Lines are sorted for stable output.
func (a *Agent) Dump(w io.Writer) error {
	a.mu.Lock()
	entries := collect(a.root, nil, nil)
	a.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Stack < entries[j].Stack })
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s %d\n", e.Stack, e.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// Entry is one unique allocation stack with its sampled totals.
type Entry struct {
	Stack   string `msgpack:"stack"`
	Samples int64  `msgpack:"samples"`
	Bytes   int64  `msgpack:"bytes"`
}

func collect(n *node, path []string, out []Entry) []Entry {
	if n.samples > 0 {
		out = append(out, Entry{
			Stack:   strings.Join(path, ";"),
			Samples: n.samples,
			Bytes:   n.bytes,
		})
	}
	for label, child := range n.children {
		out = collect(child, append(path, label), out)
	}
	return out
}

// Entries returns a sorted copy of the aggregate, for snapshots and
// tests.
func (a *Agent) Entries() []Entry {
	a.mu.Lock()
	entries := collect(a.root, nil, nil)
	a.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Stack < entries[j].Stack })
	return entries
}
