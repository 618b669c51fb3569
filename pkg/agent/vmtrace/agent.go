// Package vmtrace subscribes to every host lifecycle event and writes a
// structured log record for each, mainly to make event ordering visible
// when debugging the host or another agent.
package vmtrace

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/daimatz/gojvmti/pkg/jvmti"
)

// Agent holds the logger shared by all callbacks.
type Agent struct {
	log zerolog.Logger
}

// Load registers the tracing callbacks, logging to w.
func Load(env jvmti.Env, w io.Writer) error {
	a := &Agent{
		log: zerolog.New(w).With().Str("agent", "vmtrace").Logger(),
	}

	err := env.AddCapabilities(jvmti.Capabilities{
		CanGenerateExceptionEvents: true,
		CanGenerateClassHookEvents: true,
	})
	if err != nil {
		return fmt.Errorf("vmtrace: adding capabilities: %w", err)
	}

	env.SetEventCallbacks(jvmti.EventCallbacks{
		VMStart:         a.onVMStart,
		VMInit:          a.onVMInit,
		VMDeath:         a.onVMDeath,
		ClassFileLoad:   a.onClassFileLoad,
		ClassPrepare:    a.onClassPrepare,
		ThreadStart:     a.onThreadStart,
		ThreadEnd:       a.onThreadEnd,
		Exception:       a.onException,
		DataDumpRequest: a.onDataDump,
	})
	for _, kind := range []jvmti.EventKind{
		jvmti.EventVMStart,
		jvmti.EventVMInit,
		jvmti.EventVMDeath,
		jvmti.EventClassFileLoad,
		jvmti.EventClassPrepare,
		jvmti.EventThreadStart,
		jvmti.EventThreadEnd,
		jvmti.EventException,
		jvmti.EventDataDumpRequest,
	} {
		env.SetEventNotificationMode(true, kind)
	}
	return nil
}

func (a *Agent) event(env jvmti.Env, name string) *zerolog.Event {
	return a.log.Info().Str("event", name).Int64("ns", env.GetTime())
}

func (a *Agent) onVMStart(env jvmti.Env) {
	a.event(env, "VMStart").Send()
}

func (a *Agent) onVMInit(env jvmti.Env, thread jvmti.Thread) {
	e := a.event(env, "VMInit")
	if name, err := env.GetThreadName(thread); err == nil {
		e = e.Str("thread", name)
	}
	e.Send()
}

func (a *Agent) onVMDeath(env jvmti.Env) {
	a.event(env, "VMDeath").Send()
}

func (a *Agent) onClassFileLoad(env jvmti.Env, name string, data []byte) {
	a.event(env, "ClassFileLoadHook").Str("class", name).Int("bytes", len(data)).Send()
}

func (a *Agent) onClassPrepare(env jvmti.Env, thread jvmti.Thread, class jvmti.Class) {
	e := a.event(env, "ClassPrepare")
	if name, err := env.GetClassName(class); err == nil {
		e = e.Str("class", name)
	}
	e.Send()
}

func (a *Agent) onThreadStart(env jvmti.Env, thread jvmti.Thread) {
	e := a.event(env, "ThreadStart")
	if name, err := env.GetThreadName(thread); err == nil {
		e = e.Str("thread", name)
	}
	e.Send()
}

func (a *Agent) onThreadEnd(env jvmti.Env, thread jvmti.Thread) {
	e := a.event(env, "ThreadEnd")
	if name, err := env.GetThreadName(thread); err == nil {
		e = e.Str("thread", name)
	}
	e.Send()
}

func (a *Agent) onException(env jvmti.Env, thread jvmti.Thread, method jvmti.Method, location int, exception jvmti.Object, catchMethod jvmti.Method, catchLocation int) {
	e := a.event(env, "Exception").Int("location", location)
	if name, _, err := env.GetMethodName(method); err == nil {
		e = e.Str("method", name)
	}
	if catchMethod == nil {
		e = e.Bool("caught", false)
	} else {
		e = e.Bool("caught", true).Int("catchLocation", catchLocation)
		if name, _, err := env.GetMethodName(catchMethod); err == nil {
			e = e.Str("catchMethod", name)
		}
	}
	e.Send()
}

func (a *Agent) onDataDump(env jvmti.Env) {
	a.event(env, "DataDumpRequest").Send()
}
