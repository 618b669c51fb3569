package vm

import "fmt"

// JavaException represents a JVM exception being thrown. It travels up
// the interpreter as a Go error until a frame's exception table claims
// it.
type JavaException struct {
	Object *JObject
}

func (e *JavaException) Error() string {
	if msg, ok := e.Object.Fields["detailMessage"]; ok {
		if s, ok := msg.Ref.(string); ok && s != "" {
			return fmt.Sprintf("JavaException: %s: %s", e.Object.ClassName, s)
		}
	}
	return fmt.Sprintf("JavaException: %s", e.Object.ClassName)
}

func NewJavaException(className string) *JavaException {
	return &JavaException{
		Object: NewJObject(className, nil),
	}
}
