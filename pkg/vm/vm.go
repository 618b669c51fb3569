package vm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/daimatz/gojvmti/pkg/classfile"
	"github.com/daimatz/gojvmti/pkg/native"
)

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// defaultSamplingInterval is the average number of allocated bytes
// between allocation samples when no agent overrides it.
const defaultSamplingInterval = 512 * 1024

// VM is the virtual machine that executes Java bytecode.
type VM struct {
	Loader ClassLoader
	Stdout io.Writer

	frameDepth int
	start      time.Time
	clock      native.Clock
	mainThread *JThread
	callStack  []*Frame
	statics    map[string]Value
	prepared   map[string]bool

	envs []*ToolEnv

	samplingInterval int64
	allocBudget      int64
	timeMillis       func() int64
	nanoTime         func() int64
}

// NewVM creates a new VM backed by the given class loader.
func NewVM(loader ClassLoader) *VM {
	return &VM{
		Loader:           loader,
		Stdout:           os.Stdout,
		start:            time.Now(),
		clock:            native.SystemClock(),
		mainThread:       &JThread{Name: "main"},
		statics:          make(map[string]Value),
		prepared:         make(map[string]bool),
		samplingInterval: defaultSamplingInterval,
		allocBudget:      defaultSamplingInterval,
	}
}

// Execute loads the named class and executes its main method, posting
// the VM lifecycle events around it.
func (vm *VM) Execute(className string) error {
	vm.postVMStart()
	vm.postThreadStart(vm.mainThread)
	vm.postVMInit(vm.mainThread)
	defer func() {
		vm.postThreadEnd(vm.mainThread)
		vm.postVMDeath()
	}()

	cf, err := vm.loadClass(className)
	if err != nil {
		return fmt.Errorf("loading main class: %w", err)
	}

	method := cf.FindMethod("main", "([Ljava/lang/String;)V")
	if method == nil {
		return fmt.Errorf("main method not found in %s", className)
	}
	if method.Code == nil {
		return fmt.Errorf("main method has no Code attribute")
	}

	// main(String[] args) — pass null for args
	args := []Value{NullValue()}
	_, err = vm.executeMethod(cf, method, args)
	return err
}

// loadClass resolves a class through the loader, posting the class hook
// events on first load.
func (vm *VM) loadClass(name string) (*classfile.ClassFile, error) {
	cf, err := vm.Loader.LoadClass(name)
	if err != nil {
		return nil, err
	}
	if !vm.prepared[name] {
		vm.prepared[name] = true
		vm.postClassFileLoad(name, cf.Raw)
		vm.postClassPrepare(vm.mainThread, cf)
	}
	return cf, nil
}

// executeMethod executes a method with the given arguments and returns its return value.
func (vm *VM) executeMethod(class *classfile.ClassFile, method *classfile.MethodInfo, args []Value) (Value, error) {
	if method.Code == nil {
		return Value{}, fmt.Errorf("method %s has no Code attribute", method.Name)
	}

	vm.frameDepth++
	if vm.frameDepth > maxFrameDepth {
		return Value{}, fmt.Errorf("stack overflow: frame depth exceeded %d", maxFrameDepth)
	}
	defer func() { vm.frameDepth-- }()

	frame := NewFrame(class, method)
	vm.callStack = append(vm.callStack, frame)
	defer func() { vm.callStack = vm.callStack[:len(vm.callStack)-1] }()

	// Set arguments into local variables
	for i, arg := range args {
		frame.SetLocal(i, arg)
	}

	// Execution loop
	for frame.PC < len(frame.Code) {
		frame.InsnPC = frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++

		retVal, hasReturn, err := vm.executeInstruction(frame, opcode)
		if err != nil {
			jex, ok := err.(*JavaException)
			if !ok {
				return Value{}, err
			}
			handlerPC, found := vm.findHandler(frame, frame.InsnPC, jex.Object.ClassName)
			if !found {
				return Value{}, err
			}
			frame.ClearStack()
			frame.Push(RefValue(jex.Object))
			frame.PC = handlerPC
			continue
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

// findHandler returns the handler PC of the first exception table entry
// covering pc whose catch type matches the thrown class.
func (vm *VM) findHandler(frame *Frame, pc int, exClassName string) (int, bool) {
	for _, h := range frame.Method.Code.ExceptionHandlers {
		if pc < int(h.StartPC) || pc >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.HandlerPC), true
		}
		catchName, err := classfile.GetClassName(frame.Class.ConstantPool, h.CatchType)
		if err != nil {
			continue
		}
		if vm.isInstanceOf(exClassName, catchName) {
			return int(h.HandlerPC), true
		}
	}
	return 0, false
}

// raise creates an exception of the named class and throws it from the
// current instruction.
func (vm *VM) raise(frame *Frame, className string) error {
	return vm.throwObject(frame, NewJObject(className, nil))
}

// throwObject posts the exception event at the raise site and returns
// the error that propagates it toward a handler.
func (vm *VM) throwObject(frame *Frame, obj *JObject) error {
	vm.postException(frame, obj)
	return &JavaException{Object: obj}
}

// builtinSupers approximates the JDK exception hierarchy for class
// loaders that cannot supply the platform classes themselves.
var builtinSupers = map[string]string{
	"java/lang/NullPointerException":           "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
	"java/lang/IndexOutOfBoundsException":      "java/lang/RuntimeException",
	"java/lang/ArithmeticException":            "java/lang/RuntimeException",
	"java/lang/ClassCastException":             "java/lang/RuntimeException",
	"java/lang/NegativeArraySizeException":     "java/lang/RuntimeException",
	"java/lang/RuntimeException":               "java/lang/Exception",
	"java/lang/Exception":                      "java/lang/Throwable",
}

// isInstanceOf reports whether className is want or a subtype of it,
// walking the superclass chain through the loader.
func (vm *VM) isInstanceOf(className, want string) bool {
	seen := make(map[string]bool)
	name := className
	for name != "" && !seen[name] {
		seen[name] = true
		if name == want {
			return true
		}
		cf, err := vm.Loader.LoadClass(name)
		if err != nil {
			name = builtinSupers[name]
			continue
		}
		for _, ifaceName := range cf.InterfaceNames() {
			if ifaceName == want {
				return true
			}
		}
		super := cf.SuperClassName()
		if super == "" {
			super = builtinSupers[name]
		}
		name = super
	}
	return false
}

// executeLdc handles the ldc instruction.
func (vm *VM) executeLdc(frame *Frame, index uint16) (Value, bool, error) {
	pool := frame.Class.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, false, fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	entry := pool[index]
	switch c := entry.(type) {
	case *classfile.ConstantInteger:
		frame.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		frame.Push(FloatValue(c.Value))
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return Value{}, false, fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(RefValue(str))
	default:
		return Value{}, false, fmt.Errorf("ldc: unsupported constant pool entry type at index %d (tag=%d)", index, entry.Tag())
	}

	return Value{}, false, nil
}

// executeGetstatic handles the getstatic instruction.
func (vm *VM) executeGetstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	fieldRef, err := classfile.ResolveFieldref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getstatic: %w", err)
	}

	// Handle java/lang/System.out
	if fieldRef.ClassName == "java/lang/System" && fieldRef.FieldName == "out" {
		frame.Push(RefValue(&native.PrintStream{Writer: vm.Stdout}))
		return Value{}, false, nil
	}

	key := fieldRef.ClassName + "." + fieldRef.FieldName
	if val, ok := vm.statics[key]; ok {
		frame.Push(val)
		return Value{}, false, nil
	}

	// Unset static of a loadable class reads as its default value.
	if _, err := vm.loadClass(fieldRef.ClassName); err == nil {
		frame.Push(defaultValue(fieldRef.Descriptor))
		return Value{}, false, nil
	}

	return Value{}, false, fmt.Errorf("getstatic: unsupported field %s.%s:%s", fieldRef.ClassName, fieldRef.FieldName, fieldRef.Descriptor)
}

// executePutstatic handles the putstatic instruction.
func (vm *VM) executePutstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	fieldRef, err := classfile.ResolveFieldref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putstatic: %w", err)
	}

	vm.statics[fieldRef.ClassName+"."+fieldRef.FieldName] = frame.Pop()
	return Value{}, false, nil
}

// defaultValue returns the JVM zero value for a field descriptor.
func defaultValue(descriptor string) Value {
	if descriptor == "" {
		return NullValue()
	}
	switch descriptor[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return IntValue(0)
	case 'J':
		return LongValue(0)
	case 'F':
		return FloatValue(0)
	case 'D':
		return FloatValue(0)
	default:
		return NullValue()
	}
}

// executeGetfield handles the getfield instruction.
func (vm *VM) executeGetfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	fieldRef, err := classfile.ResolveFieldref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getfield: %w", err)
	}

	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, vm.raise(frame, "java/lang/NullPointerException")
	}
	obj, ok := objectRef.Ref.(*JObject)
	if !ok {
		return Value{}, false, fmt.Errorf("getfield: receiver is not a JObject")
	}

	val, exists := obj.Fields[fieldRef.FieldName]
	if !exists {
		frame.Push(NullValue())
	} else {
		frame.Push(val)
	}
	return Value{}, false, nil
}

// executePutfield handles the putfield instruction.
func (vm *VM) executePutfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	fieldRef, err := classfile.ResolveFieldref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putfield: %w", err)
	}

	value := frame.Pop()
	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, vm.raise(frame, "java/lang/NullPointerException")
	}
	obj, ok := objectRef.Ref.(*JObject)
	if !ok {
		return Value{}, false, fmt.Errorf("putfield: receiver is not a JObject")
	}

	obj.Fields[fieldRef.FieldName] = value
	return Value{}, false, nil
}

// invokeNative dispatches method calls on natively implemented classes.
// The second return value is false when the method is not native.
func (vm *VM) invokeNative(frame *Frame, methodRef *classfile.MethodRefInfo, objectRef Value, args []Value) (bool, error) {
	// PrintStream.println
	if methodRef.ClassName == "java/io/PrintStream" && methodRef.MethodName == "println" {
		ps, ok := objectRef.Ref.(*native.PrintStream)
		if !ok {
			return false, fmt.Errorf("invokevirtual: println receiver is not a PrintStream")
		}
		switch methodRef.Descriptor {
		case "(I)V":
			ps.Println(args[0].Int)
		case "(J)V":
			ps.Println(args[0].Long)
		case "(Ljava/lang/String;)V":
			ps.Println(args[0].Ref)
		case "()V":
			ps.Println()
		default:
			return false, fmt.Errorf("invokevirtual: unsupported println descriptor %s", methodRef.Descriptor)
		}
		return true, nil
	}

	// HashMap.get
	if methodRef.ClassName == "java/util/HashMap" && methodRef.MethodName == "get" {
		hm, ok := objectRef.Ref.(*native.NativeHashMap)
		if !ok {
			return false, fmt.Errorf("invokevirtual: HashMap.get receiver is not a NativeHashMap")
		}
		result := hm.Get(args[0].Ref)
		if result == nil {
			frame.Push(NullValue())
		} else {
			frame.Push(RefValue(result))
		}
		return true, nil
	}

	// HashMap.put
	if methodRef.ClassName == "java/util/HashMap" && methodRef.MethodName == "put" {
		hm, ok := objectRef.Ref.(*native.NativeHashMap)
		if !ok {
			return false, fmt.Errorf("invokevirtual: HashMap.put receiver is not a NativeHashMap")
		}
		old := hm.Put(args[0].Ref, args[1].Ref)
		if old == nil {
			frame.Push(NullValue())
		} else {
			frame.Push(RefValue(old))
		}
		return true, nil
	}

	// Integer.intValue
	if methodRef.ClassName == "java/lang/Integer" && methodRef.MethodName == "intValue" {
		ni, ok := objectRef.Ref.(*native.NativeInteger)
		if !ok {
			return false, fmt.Errorf("invokevirtual: Integer.intValue receiver is not a NativeInteger")
		}
		frame.Push(IntValue(ni.Value))
		return true, nil
	}

	return false, nil
}

// resolveVirtual finds a method starting at the receiver's class and
// walking the superclass chain.
func (vm *VM) resolveVirtual(frame *Frame, objectRef Value, name, descriptor string) (*classfile.ClassFile, *classfile.MethodInfo) {
	start := frame.Class
	if obj, ok := objectRef.Ref.(*JObject); ok && obj.Class != nil {
		start = obj.Class
	}
	return vm.resolveInClass(start, name, descriptor)
}

// resolveInClass walks the superclass chain from start looking for the
// method.
func (vm *VM) resolveInClass(start *classfile.ClassFile, name, descriptor string) (*classfile.ClassFile, *classfile.MethodInfo) {
	for cf := start; cf != nil; {
		if m := cf.FindMethod(name, descriptor); m != nil {
			return cf, m
		}
		super := cf.SuperClassName()
		if super == "" {
			return nil, nil
		}
		next, err := vm.Loader.LoadClass(super)
		if err != nil {
			return nil, nil
		}
		cf = next
	}
	return nil, nil
}

// executeInvokevirtual handles the invokevirtual instruction.
func (vm *VM) executeInvokevirtual(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	methodRef, err := classfile.ResolveMethodref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokevirtual: %w", err)
	}

	paramCount, err := countParams(methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokevirtual: %w", err)
	}

	args := make([]Value, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, vm.raise(frame, "java/lang/NullPointerException")
	}

	handled, err := vm.invokeNative(frame, methodRef, objectRef, args)
	if err != nil {
		return Value{}, false, err
	}
	if handled {
		return Value{}, false, nil
	}

	// User-defined method
	class, method := vm.resolveVirtual(frame, objectRef, methodRef.MethodName, methodRef.Descriptor)
	if method != nil {
		fullArgs := make([]Value, 0, len(args)+1)
		fullArgs = append(fullArgs, objectRef)
		fullArgs = append(fullArgs, args...)
		retVal, err := vm.executeMethod(class, method, fullArgs)
		if err != nil {
			return Value{}, false, err
		}
		if !isVoidReturn(methodRef.Descriptor) {
			frame.Push(retVal)
		}
		return Value{}, false, nil
	}

	return Value{}, false, fmt.Errorf("invokevirtual: unsupported method %s.%s:%s", methodRef.ClassName, methodRef.MethodName, methodRef.Descriptor)
}

// executeInvokeinterface handles the invokeinterface instruction.
func (vm *VM) executeInvokeinterface(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	frame.ReadU8() // count, derivable from the descriptor
	frame.ReadU8() // always zero
	pool := frame.Class.ConstantPool

	methodRef, err := classfile.ResolveMethodref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokeinterface: %w", err)
	}

	paramCount, err := countParams(methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokeinterface: %w", err)
	}

	args := make([]Value, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, vm.raise(frame, "java/lang/NullPointerException")
	}

	handled, err := vm.invokeNative(frame, methodRef, objectRef, args)
	if err != nil {
		return Value{}, false, err
	}
	if handled {
		return Value{}, false, nil
	}

	class, method := vm.resolveVirtual(frame, objectRef, methodRef.MethodName, methodRef.Descriptor)
	if method == nil {
		return Value{}, false, fmt.Errorf("invokeinterface: unsupported method %s.%s:%s", methodRef.ClassName, methodRef.MethodName, methodRef.Descriptor)
	}
	fullArgs := make([]Value, 0, len(args)+1)
	fullArgs = append(fullArgs, objectRef)
	fullArgs = append(fullArgs, args...)
	retVal, err := vm.executeMethod(class, method, fullArgs)
	if err != nil {
		return Value{}, false, err
	}
	if !isVoidReturn(methodRef.Descriptor) {
		frame.Push(retVal)
	}
	return Value{}, false, nil
}

// executeInvokespecial handles the invokespecial instruction.
func (vm *VM) executeInvokespecial(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	methodRef, err := classfile.ResolveMethodref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}

	paramCount, err := countParams(methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}

	args := make([]Value, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	objectRef := frame.Pop() // this

	switch {
	case methodRef.ClassName == "java/lang/Object" && methodRef.MethodName == "<init>":
		// no-op
	case methodRef.ClassName == "java/util/HashMap" && methodRef.MethodName == "<init>":
		// HashMap already initialized in new, no-op
	default:
		if objectRef.IsNull() {
			return Value{}, false, vm.raise(frame, "java/lang/NullPointerException")
		}
		// Constructors and private methods resolve in the named class.
		start := frame.Class
		if cf, err := vm.loadClass(methodRef.ClassName); err == nil {
			start = cf
		}
		class, method := vm.resolveInClass(start, methodRef.MethodName, methodRef.Descriptor)
		if method == nil {
			return Value{}, false, fmt.Errorf("invokespecial: method %s:%s not found", methodRef.MethodName, methodRef.Descriptor)
		}
		fullArgs := make([]Value, 0, len(args)+1)
		fullArgs = append(fullArgs, objectRef)
		fullArgs = append(fullArgs, args...)
		retVal, err := vm.executeMethod(class, method, fullArgs)
		if err != nil {
			return Value{}, false, err
		}
		if !isVoidReturn(methodRef.Descriptor) {
			frame.Push(retVal)
		}
	}
	return Value{}, false, nil
}

// executeInvokestatic handles the invokestatic instruction.
func (vm *VM) executeInvokestatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	methodRef, err := classfile.ResolveMethodref(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}

	// Native static methods
	if methodRef.ClassName == "java/lang/Integer" && methodRef.MethodName == "valueOf" {
		intVal := frame.Pop()
		frame.Push(RefValue(native.IntegerValueOf(intVal.Int)))
		return Value{}, false, nil
	}
	if methodRef.ClassName == "java/lang/System" && methodRef.MethodName == "currentTimeMillis" {
		frame.Push(LongValue(vm.boundMillis()()))
		return Value{}, false, nil
	}
	if methodRef.ClassName == "java/lang/System" && methodRef.MethodName == "nanoTime" {
		frame.Push(LongValue(vm.boundNanos()()))
		return Value{}, false, nil
	}

	// Resolve in the named class, falling back to the current class.
	start := frame.Class
	if cf, err := vm.loadClass(methodRef.ClassName); err == nil {
		start = cf
	}
	class, method := vm.resolveInClass(start, methodRef.MethodName, methodRef.Descriptor)
	if method == nil {
		return Value{}, false, fmt.Errorf("invokestatic: method %s:%s not found in class %s", methodRef.MethodName, methodRef.Descriptor, methodRef.ClassName)
	}

	// Count parameters from descriptor
	paramCount, err := countParams(methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}

	// Pop arguments from stack (in reverse order)
	args := make([]Value, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}

	// Execute the method
	retVal, err := vm.executeMethod(class, method, args)
	if err != nil {
		return Value{}, false, err
	}

	// Push return value if the method returns something
	if !isVoidReturn(methodRef.Descriptor) {
		frame.Push(retVal)
	}

	return Value{}, false, nil
}

// executeNew handles the new instruction.
func (vm *VM) executeNew(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Class.ConstantPool

	className, err := classfile.GetClassName(pool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("new: %w", err)
	}

	switch className {
	case "java/util/HashMap":
		hm := native.NewNativeHashMap()
		vm.sampleAlloc(hm, nil, 48)
		frame.Push(RefValue(hm))
	default:
		cls, _ := vm.loadClass(className) // native-backed classes have no class file
		obj := NewJObject(className, cls)
		vm.sampleAlloc(obj, cls, objectSize(cls))
		frame.Push(RefValue(obj))
	}
	return Value{}, false, nil
}

// objectSize estimates the heap footprint of an instance.
func objectSize(cls *classfile.ClassFile) int64 {
	if cls == nil {
		return 16
	}
	return 16 + 8*int64(len(cls.Fields))
}

// countParams counts the number of parameters in a method descriptor.
func countParams(descriptor string) (int, error) {
	// Parse between ( and )
	start := strings.Index(descriptor, "(")
	end := strings.Index(descriptor, ")")
	if start == -1 || end == -1 {
		return 0, fmt.Errorf("invalid method descriptor: %s", descriptor)
	}

	params := descriptor[start+1 : end]
	count := 0
	i := 0
	for i < len(params) {
		switch params[i] {
		case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
			count++
			i++
		case 'L':
			count++
			// Skip until ';'
			for i < len(params) && params[i] != ';' {
				i++
			}
			i++ // skip ';'
		case '[':
			// Array — skip dimensions, then count the element type
			for i < len(params) && params[i] == '[' {
				i++
			}
			if i < len(params) && params[i] == 'L' {
				for i < len(params) && params[i] != ';' {
					i++
				}
				i++ // skip ';'
			} else if i < len(params) {
				i++ // primitive type
			}
			count++
		default:
			return 0, fmt.Errorf("invalid type descriptor char '%c' in %s", params[i], descriptor)
		}
	}
	return count, nil
}

// isVoidReturn checks if a method descriptor has void return type.
func isVoidReturn(descriptor string) bool {
	return strings.HasSuffix(descriptor, ")V")
}
