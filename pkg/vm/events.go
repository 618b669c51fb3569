package vm

import (
	"github.com/daimatz/gojvmti/pkg/classfile"
	"github.com/daimatz/gojvmti/pkg/jvmti"
)

// JThread identifies a thread of execution. The interpreter runs a
// single main thread; the type exists so agents get a stable handle.
type JThread struct {
	Name string
}

func (vm *VM) postVMStart() {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventVMStart] && env.callbacks.VMStart != nil {
			env.callbacks.VMStart(env)
		}
	}
}

func (vm *VM) postVMInit(thread *JThread) {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventVMInit] && env.callbacks.VMInit != nil {
			env.callbacks.VMInit(env, thread)
		}
	}
}

func (vm *VM) postVMDeath() {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventVMDeath] && env.callbacks.VMDeath != nil {
			env.callbacks.VMDeath(env)
		}
	}
}

func (vm *VM) postThreadStart(thread *JThread) {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventThreadStart] && env.callbacks.ThreadStart != nil {
			env.callbacks.ThreadStart(env, thread)
		}
	}
}

func (vm *VM) postThreadEnd(thread *JThread) {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventThreadEnd] && env.callbacks.ThreadEnd != nil {
			env.callbacks.ThreadEnd(env, thread)
		}
	}
}

func (vm *VM) postClassFileLoad(name string, data []byte) {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventClassFileLoad] && env.caps.CanGenerateClassHookEvents && env.callbacks.ClassFileLoad != nil {
			env.callbacks.ClassFileLoad(env, name, data)
		}
	}
}

func (vm *VM) postClassPrepare(thread *JThread, cf *classfile.ClassFile) {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventClassPrepare] && env.callbacks.ClassPrepare != nil {
			env.callbacks.ClassPrepare(env, thread, cf)
		}
	}
}

// postException reports a raised exception to interested agents. The
// event carries the raise site and, when a handler on the current call
// stack will claim the exception, the catch site.
func (vm *VM) postException(frame *Frame, obj *JObject) {
	interested := false
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventException] && env.caps.CanGenerateExceptionEvents && env.callbacks.Exception != nil {
			interested = true
			break
		}
	}
	if !interested {
		return
	}

	method := MethodID{Class: frame.Class, Info: frame.Method}
	catchMethod, catchLocation := vm.findCatchSite(obj.ClassName)

	for _, env := range vm.envs {
		if env.enabled[jvmti.EventException] && env.caps.CanGenerateExceptionEvents && env.callbacks.Exception != nil {
			env.callbacks.Exception(env, vm.mainThread, method, frame.InsnPC, obj, catchMethod, catchLocation)
		}
	}
}

// findCatchSite walks the call stack innermost-first looking for the
// frame whose exception table will claim the exception.
func (vm *VM) findCatchSite(exClassName string) (jvmti.Method, int) {
	for i := len(vm.callStack) - 1; i >= 0; i-- {
		f := vm.callStack[i]
		if handlerPC, ok := vm.findHandler(f, f.InsnPC, exClassName); ok {
			return MethodID{Class: f.Class, Info: f.Method}, handlerPC
		}
	}
	return nil, -1
}

// postNativeMethodBind offers the implementation of a native method to
// agents, chaining replacements in attach order.
func (vm *VM) postNativeMethodBind(method MethodID, impl interface{}) interface{} {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventNativeMethodBind] && env.caps.CanGenerateNativeMethodBindEvents && env.callbacks.NativeMethodBind != nil {
			if repl := env.callbacks.NativeMethodBind(env, vm.mainThread, method, impl); repl != nil {
				impl = repl
			}
		}
	}
	return impl
}

// boundMillis returns the System.currentTimeMillis implementation,
// resolving it through the native bind hook on first use.
func (vm *VM) boundMillis() func() int64 {
	if vm.timeMillis == nil {
		vm.timeMillis = vm.bindClock("currentTimeMillis", "()J", vm.clock.Millis)
	}
	return vm.timeMillis
}

// boundNanos returns the System.nanoTime implementation.
func (vm *VM) boundNanos() func() int64 {
	if vm.nanoTime == nil {
		vm.nanoTime = vm.bindClock("nanoTime", "()J", vm.clock.Nanos)
	}
	return vm.nanoTime
}

func (vm *VM) bindClock(name, descriptor string, impl func() int64) func() int64 {
	info := &classfile.MethodInfo{
		AccessFlags: classfile.AccStatic | classfile.AccNative,
		Name:        name,
		Descriptor:  descriptor,
	}
	bound := vm.postNativeMethodBind(MethodID{Info: info}, impl)
	if fn, ok := bound.(func() int64); ok && fn != nil {
		return fn
	}
	return impl
}

// sampleAlloc charges an allocation against the sampling budget and
// posts a sample event when the budget is exhausted.
func (vm *VM) sampleAlloc(obj interface{}, cls *classfile.ClassFile, size int64) {
	interested := false
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventSampledObjectAlloc] && env.caps.CanGenerateSampledObjectAllocEvents && env.callbacks.SampledObjectAlloc != nil {
			interested = true
			break
		}
	}
	if !interested {
		return
	}

	if vm.samplingInterval > 0 {
		vm.allocBudget -= size
		if vm.allocBudget > 0 {
			return
		}
		vm.allocBudget = vm.samplingInterval
	}

	var class jvmti.Class
	if cls != nil {
		class = cls
	}
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventSampledObjectAlloc] && env.caps.CanGenerateSampledObjectAllocEvents && env.callbacks.SampledObjectAlloc != nil {
			env.callbacks.SampledObjectAlloc(env, vm.mainThread, obj, class, size)
		}
	}
}

// RequestDataDump asks every agent that registered a DataDumpRequest
// callback to emit its state, typically in response to SIGQUIT.
func (vm *VM) RequestDataDump() {
	for _, env := range vm.envs {
		if env.enabled[jvmti.EventDataDumpRequest] && env.callbacks.DataDumpRequest != nil {
			env.callbacks.DataDumpRequest(env)
		}
	}
}
