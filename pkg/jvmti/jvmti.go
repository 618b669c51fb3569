// Package jvmti is the tool interface the VM exposes to instrumentation
// agents. An agent receives an Env at load time, negotiates capabilities
// once, registers event callbacks, and from then on only reacts to events
// and issues queries. The handle types are opaque: they are minted by the
// host and have no meaning outside the Env that issued them.
package jvmti

import "errors"

// Opaque handles owned by the host VM.
type (
	Thread interface{}
	Method interface{}
	Class  interface{}
	Object interface{}
)

var (
	// ErrMissingCapability is returned by Env calls guarded by a
	// capability the agent did not negotiate at load time.
	ErrMissingCapability = errors.New("jvmti: capability not negotiated")
	// ErrAbsentInformation is returned when the host cannot supply the
	// requested data (unloaded class, methods without code, ...).
	ErrAbsentInformation = errors.New("jvmti: information not available")
)

// Capabilities declares which host facilities an agent will use.
type Capabilities struct {
	CanGenerateExceptionEvents          bool
	CanGetBytecodes                     bool
	CanGetConstantPool                  bool
	CanGenerateClassHookEvents          bool
	CanGenerateSampledObjectAllocEvents bool
	CanGenerateNativeMethodBindEvents   bool
}

// EventKind enumerates the subscribable host events.
type EventKind int

const (
	EventVMStart EventKind = iota
	EventVMInit
	EventVMDeath
	EventClassFileLoad
	EventClassPrepare
	EventThreadStart
	EventThreadEnd
	EventException
	EventNativeMethodBind
	EventSampledObjectAlloc
	EventDataDumpRequest
)

// FrameInfo is one entry of a stack trace, innermost first.
type FrameInfo struct {
	Method   Method
	Location int
}

// EventCallbacks is the callback table an agent registers. A nil entry
// means the agent is not interested in that event. Callbacks run
// synchronously on the thread that triggered the event and must not
// block.
type EventCallbacks struct {
	VMStart       func(env Env)
	VMInit        func(env Env, thread Thread)
	VMDeath       func(env Env)
	ClassFileLoad func(env Env, name string, data []byte)
	ClassPrepare  func(env Env, thread Thread, class Class)
	ThreadStart   func(env Env, thread Thread)
	ThreadEnd     func(env Env, thread Thread)

	// Exception is posted at the raise site, before handler dispatch.
	// location is the bytecode index of the faulting instruction.
	// catchMethod is nil and catchLocation is -1 when no handler will
	// catch the exception.
	Exception func(env Env, thread Thread, method Method, location int, exception Object, catchMethod Method, catchLocation int)

	// NativeMethodBind is posted when the host first resolves a native
	// method. impl is the host's implementation; returning a non-nil
	// value of the same function type substitutes it.
	NativeMethodBind func(env Env, thread Thread, method Method, impl interface{}) (replacement interface{})

	SampledObjectAlloc func(env Env, thread Thread, object Object, class Class, size int64)
	DataDumpRequest    func(env Env)
}

// Env is the per-agent view of the host VM. Implementations are safe for
// use from within event callbacks.
type Env interface {
	AddCapabilities(caps Capabilities) error
	SetEventCallbacks(callbacks EventCallbacks)
	SetEventNotificationMode(enable bool, kind EventKind)

	// GetBytecodes returns a copy of the method's bytecode.
	// Requires CanGetBytecodes.
	GetBytecodes(method Method) ([]byte, error)
	// GetConstantPool returns the class's constant pool entry count and
	// its raw serialized bytes, exactly as read from the class file.
	// Requires CanGetConstantPool.
	GetConstantPool(class Class) (count uint16, raw []byte, err error)

	GetMethodName(method Method) (name, descriptor string, err error)
	GetMethodDeclaringClass(method Method) (Class, error)
	GetClassName(class Class) (string, error)
	GetThreadName(thread Thread) (string, error)
	GetStackTrace(thread Thread, start, maxCount int) ([]FrameInfo, error)
	// GetTime returns monotonic nanoseconds since VM start.
	GetTime() int64

	// IsInstanceOf reports whether the object's class is className or a
	// subclass of it.
	IsInstanceOf(object Object, className string) bool
	// SetObjectField writes an instance field of the given object.
	SetObjectField(object Object, name string, value interface{}) error

	// SetHeapSamplingInterval sets the average number of allocated bytes
	// between SampledObjectAlloc events. Zero samples every allocation.
	SetHeapSamplingInterval(bytes int64) error
}
