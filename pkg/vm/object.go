package vm

import "github.com/daimatz/gojvmti/pkg/classfile"

// JObject represents a JVM object instance.
type JObject struct {
	ClassName string
	// Class is the defining class when the loader could supply it; nil
	// for instances backed by native implementations.
	Class  *classfile.ClassFile
	Fields map[string]Value
}

// NewJObject creates an instance with an empty field table.
func NewJObject(className string, class *classfile.ClassFile) *JObject {
	return &JObject{
		ClassName: className,
		Class:     class,
		Fields:    make(map[string]Value),
	}
}

// JArray represents a JVM array.
type JArray struct {
	Elements []Value
}
