// Package npe rewrites the empty message of a NullPointerException with a
// description of the sub-expression that was null, recovered by decoding
// the faulting instruction and, when it references a field or method,
// resolving the member name from the class's serialized constant pool.
package npe

import (
	"encoding/binary"
	"fmt"

	"github.com/daimatz/gojvmti/pkg/jvmti"
)

const (
	targetClass  = "java/lang/NullPointerException"
	messageField = "detailMessage"

	// maxMessageLen bounds the synthesized message, mirroring the fixed
	// formatting buffer of the native agent.
	maxMessageLen = 400

	// unknownMember stands in for a name the pool could not supply.
	unknownMember = "<unknown>"
)

// Describe decodes the instruction at location and renders the diagnostic
// message for it. It is a pure function of its inputs: the host only
// contributes the two buffers. The second return value is false when no
// message applies (unrecognized opcode or out-of-range location), in
// which case the exception must be left untouched.
func Describe(bytecode []byte, location int, pool RawPool) (string, bool) {
	if location < 0 || location >= len(bytecode) {
		return "", false
	}

	tmpl, ok := messageTemplate(bytecode[location])
	if !ok {
		return "", false
	}

	if !tmpl.needsSymbol {
		if !tmpl.needsBCI {
			return tmpl.text, true
		}
		return bound(fmt.Sprintf(tmpl.text, location)), true
	}

	// Field/method opcodes carry a 2-byte big-endian pool index right
	// after the opcode.
	if location+3 > len(bytecode) {
		return "", false
	}
	index := binary.BigEndian.Uint16(bytecode[location+1 : location+3])
	name, err := pool.MemberName(index)
	if err != nil {
		name = unknownMember
	}
	return bound(fmt.Sprintf(tmpl.text, name, location)), true
}

// bound truncates s to the formatter's fixed capacity.
func bound(s string) string {
	if len(s) > maxMessageLen {
		return s[:maxMessageLen]
	}
	return s
}

// Agent holds the immutable context built once at load time.
type Agent struct {
	env jvmti.Env
}

// Load negotiates capabilities and registers the exception callback.
func Load(env jvmti.Env) error {
	a := &Agent{env: env}
	err := env.AddCapabilities(jvmti.Capabilities{
		CanGenerateExceptionEvents: true,
		CanGetBytecodes:            true,
		CanGetConstantPool:         true,
	})
	if err != nil {
		return fmt.Errorf("npe: adding capabilities: %w", err)
	}
	env.SetEventCallbacks(jvmti.EventCallbacks{Exception: a.onException})
	env.SetEventNotificationMode(true, jvmti.EventException)
	return nil
}

// onException runs synchronously on the raising thread. Every failure
// path is a silent return: the worst outcome is the host's original
// (empty) message.
func (a *Agent) onException(env jvmti.Env, thread jvmti.Thread, method jvmti.Method, location int, exception jvmti.Object, catchMethod jvmti.Method, catchLocation int) {
	if !env.IsInstanceOf(exception, targetClass) {
		return
	}

	bytecode, err := env.GetBytecodes(method)
	if err != nil {
		return
	}
	class, err := env.GetMethodDeclaringClass(method)
	if err != nil {
		return
	}
	count, raw, err := env.GetConstantPool(class)
	if err != nil {
		return
	}

	msg, ok := Describe(bytecode, location, RawPool{Count: count, Bytes: raw})
	if !ok {
		return
	}
	// Install before the exception propagates so catch sites and default
	// reporters observe the synthesized text. A failed write leaves the
	// original message, which is the degraded behavior we want anyway.
	_ = env.SetObjectField(exception, messageField, msg)
}
