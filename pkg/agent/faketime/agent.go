// Package faketime shifts the clock the guest program observes by a
// fixed millisecond offset. It intercepts the native bind of
// System.currentTimeMillis and System.nanoTime and substitutes wrappers
// around the host implementations; the host's own timekeeping is
// unaffected.
package faketime

import (
	"fmt"
	"strconv"

	"github.com/daimatz/gojvmti/pkg/jvmti"
)

// Agent carries the configured offset.
type Agent struct {
	offsetMillis int64
}

// Load parses the agent options (a decimal millisecond offset, possibly
// negative) and registers the bind hook.
func Load(env jvmti.Env, options string) error {
	offset, err := strconv.ParseInt(options, 10, 64)
	if err != nil {
		return fmt.Errorf("faketime: invalid offset %q: %w", options, err)
	}
	a := &Agent{offsetMillis: offset}

	err = env.AddCapabilities(jvmti.Capabilities{
		CanGenerateNativeMethodBindEvents: true,
	})
	if err != nil {
		return fmt.Errorf("faketime: adding capabilities: %w", err)
	}
	env.SetEventCallbacks(jvmti.EventCallbacks{
		NativeMethodBind: a.onNativeMethodBind,
	})
	env.SetEventNotificationMode(true, jvmti.EventNativeMethodBind)
	return nil
}

// onNativeMethodBind wraps the two clock natives and ignores everything
// else.
func (a *Agent) onNativeMethodBind(env jvmti.Env, thread jvmti.Thread, method jvmti.Method, impl interface{}) interface{} {
	name, _, err := env.GetMethodName(method)
	if err != nil {
		return nil
	}
	orig, ok := impl.(func() int64)
	if !ok {
		return nil
	}

	switch name {
	case "currentTimeMillis":
		offset := a.offsetMillis
		return func() int64 { return orig() + offset }
	case "nanoTime":
		offset := a.offsetMillis * 1_000_000
		return func() int64 { return orig() + offset }
	default:
		return nil
	}
}
