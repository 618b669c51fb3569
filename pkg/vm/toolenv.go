package vm

import (
	"time"

	"github.com/daimatz/gojvmti/pkg/classfile"
	"github.com/daimatz/gojvmti/pkg/jvmti"
)

// MethodID is the handle minted for jvmti.Method. It is comparable so
// agents can use it as a map key.
type MethodID struct {
	Class *classfile.ClassFile
	Info  *classfile.MethodInfo
}

// ToolEnv is the per-agent implementation of jvmti.Env.
type ToolEnv struct {
	vm        *VM
	caps      jvmti.Capabilities
	callbacks jvmti.EventCallbacks
	enabled   map[jvmti.EventKind]bool
}

// AttachAgent creates a fresh agent environment. Each agent gets its
// own: capabilities and event subscriptions do not leak between them.
func (vm *VM) AttachAgent() jvmti.Env {
	env := &ToolEnv{
		vm:      vm,
		enabled: make(map[jvmti.EventKind]bool),
	}
	vm.envs = append(vm.envs, env)
	return env
}

func (e *ToolEnv) AddCapabilities(caps jvmti.Capabilities) error {
	if caps.CanGenerateExceptionEvents {
		e.caps.CanGenerateExceptionEvents = true
	}
	if caps.CanGetBytecodes {
		e.caps.CanGetBytecodes = true
	}
	if caps.CanGetConstantPool {
		e.caps.CanGetConstantPool = true
	}
	if caps.CanGenerateClassHookEvents {
		e.caps.CanGenerateClassHookEvents = true
	}
	if caps.CanGenerateSampledObjectAllocEvents {
		e.caps.CanGenerateSampledObjectAllocEvents = true
	}
	if caps.CanGenerateNativeMethodBindEvents {
		e.caps.CanGenerateNativeMethodBindEvents = true
	}
	return nil
}

func (e *ToolEnv) SetEventCallbacks(callbacks jvmti.EventCallbacks) {
	e.callbacks = callbacks
}

func (e *ToolEnv) SetEventNotificationMode(enable bool, kind jvmti.EventKind) {
	e.enabled[kind] = enable
}

func asMethod(m jvmti.Method) (MethodID, error) {
	id, ok := m.(MethodID)
	if !ok {
		return MethodID{}, jvmti.ErrAbsentInformation
	}
	return id, nil
}

func (e *ToolEnv) GetBytecodes(method jvmti.Method) ([]byte, error) {
	if !e.caps.CanGetBytecodes {
		return nil, jvmti.ErrMissingCapability
	}
	id, err := asMethod(method)
	if err != nil {
		return nil, err
	}
	if id.Info == nil || id.Info.Code == nil {
		return nil, jvmti.ErrAbsentInformation
	}
	code := make([]byte, len(id.Info.Code.Code))
	copy(code, id.Info.Code.Code)
	return code, nil
}

func (e *ToolEnv) GetConstantPool(class jvmti.Class) (uint16, []byte, error) {
	if !e.caps.CanGetConstantPool {
		return 0, nil, jvmti.ErrMissingCapability
	}
	cf, ok := class.(*classfile.ClassFile)
	if !ok || cf.RawConstantPool == nil {
		return 0, nil, jvmti.ErrAbsentInformation
	}
	raw := make([]byte, len(cf.RawConstantPool))
	copy(raw, cf.RawConstantPool)
	return cf.ConstantPoolCount, raw, nil
}

func (e *ToolEnv) GetMethodName(method jvmti.Method) (string, string, error) {
	id, err := asMethod(method)
	if err != nil {
		return "", "", err
	}
	if id.Info == nil {
		return "", "", jvmti.ErrAbsentInformation
	}
	return id.Info.Name, id.Info.Descriptor, nil
}

func (e *ToolEnv) GetMethodDeclaringClass(method jvmti.Method) (jvmti.Class, error) {
	id, err := asMethod(method)
	if err != nil {
		return nil, err
	}
	if id.Class == nil {
		return nil, jvmti.ErrAbsentInformation
	}
	return id.Class, nil
}

func (e *ToolEnv) GetClassName(class jvmti.Class) (string, error) {
	cf, ok := class.(*classfile.ClassFile)
	if !ok {
		return "", jvmti.ErrAbsentInformation
	}
	return cf.ClassName()
}

func (e *ToolEnv) GetThreadName(thread jvmti.Thread) (string, error) {
	t, ok := thread.(*JThread)
	if !ok {
		return "", jvmti.ErrAbsentInformation
	}
	return t.Name, nil
}

func (e *ToolEnv) GetStackTrace(thread jvmti.Thread, start, maxCount int) ([]jvmti.FrameInfo, error) {
	if _, ok := thread.(*JThread); !ok {
		return nil, jvmti.ErrAbsentInformation
	}
	stack := e.vm.callStack
	frames := make([]jvmti.FrameInfo, 0, len(stack))
	skipped := 0
	for i := len(stack) - 1; i >= 0; i-- {
		if skipped < start {
			skipped++
			continue
		}
		if maxCount > 0 && len(frames) >= maxCount {
			break
		}
		f := stack[i]
		frames = append(frames, jvmti.FrameInfo{
			Method:   MethodID{Class: f.Class, Info: f.Method},
			Location: f.InsnPC,
		})
	}
	return frames, nil
}

func (e *ToolEnv) GetTime() int64 {
	return time.Since(e.vm.start).Nanoseconds()
}

func (e *ToolEnv) IsInstanceOf(object jvmti.Object, className string) bool {
	obj, ok := object.(*JObject)
	if !ok {
		return false
	}
	return e.vm.isInstanceOf(obj.ClassName, className)
}

func (e *ToolEnv) SetObjectField(object jvmti.Object, name string, value interface{}) error {
	obj, ok := object.(*JObject)
	if !ok {
		return jvmti.ErrAbsentInformation
	}
	switch v := value.(type) {
	case Value:
		obj.Fields[name] = v
	case string:
		obj.Fields[name] = RefValue(v)
	case int32:
		obj.Fields[name] = IntValue(v)
	case int64:
		obj.Fields[name] = LongValue(v)
	case nil:
		obj.Fields[name] = NullValue()
	default:
		obj.Fields[name] = RefValue(v)
	}
	return nil
}

func (e *ToolEnv) SetHeapSamplingInterval(bytes int64) error {
	if !e.caps.CanGenerateSampledObjectAllocEvents {
		return jvmti.ErrMissingCapability
	}
	e.vm.samplingInterval = bytes
	e.vm.allocBudget = bytes
	return nil
}
