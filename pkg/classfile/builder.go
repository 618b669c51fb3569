package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"fortio.org/safecast"
)

// Builder assembles a minimal class file in memory. It exists so tools and
// tests can synthesize classes with known constant pools and bytecode
// without shelling out to a Java compiler.
type Builder struct {
	className string
	pool      []ConstantPoolEntry // 1-indexed, phantom slots are nil
	utf8s     map[string]uint16
	classes   map[string]uint16
	nats      map[string]uint16
	members   map[string]uint16
	methods   []builderMethod
}

type builderMethod struct {
	accessFlags uint16
	name        string
	descriptor  string
	maxStack    uint16
	maxLocals   uint16
	code        []byte
	handlers    []ExceptionHandler
}

// NewBuilder creates a Builder for a public class extending java/lang/Object.
func NewBuilder(className string) *Builder {
	b := &Builder{
		className: className,
		pool:      []ConstantPoolEntry{nil}, // index 0 is unused
		utf8s:     make(map[string]uint16),
		classes:   make(map[string]uint16),
		nats:      make(map[string]uint16),
		members:   make(map[string]uint16),
	}
	b.Class(className)
	b.Class("java/lang/Object")
	return b
}

func (b *Builder) append(e ConstantPoolEntry) uint16 {
	b.pool = append(b.pool, e)
	return uint16(len(b.pool) - 1)
}

// Utf8 interns a CONSTANT_Utf8 entry and returns its index.
func (b *Builder) Utf8(s string) uint16 {
	if idx, ok := b.utf8s[s]; ok {
		return idx
	}
	idx := b.append(&ConstantUtf8{Value: s})
	b.utf8s[s] = idx
	return idx
}

// Class interns a CONSTANT_Class entry and returns its index.
func (b *Builder) Class(name string) uint16 {
	if idx, ok := b.classes[name]; ok {
		return idx
	}
	nameIdx := b.Utf8(name)
	idx := b.append(&ConstantClass{NameIndex: nameIdx})
	b.classes[name] = idx
	return idx
}

// NameAndType interns a CONSTANT_NameAndType entry and returns its index.
func (b *Builder) NameAndType(name, descriptor string) uint16 {
	key := name + ":" + descriptor
	if idx, ok := b.nats[key]; ok {
		return idx
	}
	nameIdx := b.Utf8(name)
	descIdx := b.Utf8(descriptor)
	idx := b.append(&ConstantNameAndType{NameIndex: nameIdx, DescriptorIndex: descIdx})
	b.nats[key] = idx
	return idx
}

// Fieldref interns a CONSTANT_Fieldref entry and returns its index.
func (b *Builder) Fieldref(className, name, descriptor string) uint16 {
	key := "F" + className + "." + name + ":" + descriptor
	if idx, ok := b.members[key]; ok {
		return idx
	}
	classIdx := b.Class(className)
	natIdx := b.NameAndType(name, descriptor)
	idx := b.append(&ConstantFieldref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
	b.members[key] = idx
	return idx
}

// Methodref interns a CONSTANT_Methodref entry and returns its index.
func (b *Builder) Methodref(className, name, descriptor string) uint16 {
	key := "M" + className + "." + name + ":" + descriptor
	if idx, ok := b.members[key]; ok {
		return idx
	}
	classIdx := b.Class(className)
	natIdx := b.NameAndType(name, descriptor)
	idx := b.append(&ConstantMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
	b.members[key] = idx
	return idx
}

// InterfaceMethodref interns a CONSTANT_InterfaceMethodref entry.
func (b *Builder) InterfaceMethodref(className, name, descriptor string) uint16 {
	key := "I" + className + "." + name + ":" + descriptor
	if idx, ok := b.members[key]; ok {
		return idx
	}
	classIdx := b.Class(className)
	natIdx := b.NameAndType(name, descriptor)
	idx := b.append(&ConstantInterfaceMethodref{ClassIndex: classIdx, NameAndTypeIndex: natIdx})
	b.members[key] = idx
	return idx
}

// StringConst adds a CONSTANT_String entry and returns its index.
func (b *Builder) StringConst(s string) uint16 {
	strIdx := b.Utf8(s)
	return b.append(&ConstantString{StringIndex: strIdx})
}

// IntConst adds a CONSTANT_Integer entry and returns its index.
func (b *Builder) IntConst(v int32) uint16 {
	return b.append(&ConstantInteger{Value: v})
}

// LongConst adds a CONSTANT_Long entry and returns its index.
// Long entries occupy two logical slots; the second is left unused.
func (b *Builder) LongConst(v int64) uint16 {
	idx := b.append(&ConstantLong{Value: v})
	b.pool = append(b.pool, nil) // phantom second slot
	return idx
}

// DoubleConst adds a CONSTANT_Double entry and returns its index.
// Double entries occupy two logical slots; the second is left unused.
func (b *Builder) DoubleConst(v float64) uint16 {
	idx := b.append(&ConstantDouble{Value: v})
	b.pool = append(b.pool, nil)
	return idx
}

// AddMethod adds a method with the given bytecode and exception handlers.
func (b *Builder) AddMethod(accessFlags uint16, name, descriptor string, maxStack, maxLocals uint16, code []byte, handlers ...ExceptionHandler) {
	b.methods = append(b.methods, builderMethod{
		accessFlags: accessFlags,
		name:        name,
		descriptor:  descriptor,
		maxStack:    maxStack,
		maxLocals:   maxLocals,
		code:        code,
		handlers:    handlers,
	})
}

// Bytes serializes the class file.
func (b *Builder) Bytes() ([]byte, error) {
	// Intern names referenced from method_info before the pool is frozen.
	for _, m := range b.methods {
		b.Utf8(m.name)
		b.Utf8(m.descriptor)
		if m.code != nil {
			b.Utf8("Code")
		}
	}

	var buf bytes.Buffer
	w := func(v interface{}) {
		binary.Write(&buf, binary.BigEndian, v)
	}

	w(uint32(classMagic))
	w(uint16(0))  // minor_version
	w(uint16(52)) // major_version: Java 8

	poolCount, err := safecast.Convert[uint16](len(b.pool))
	if err != nil {
		return nil, fmt.Errorf("constant pool too large: %w", err)
	}
	w(poolCount) // constant_pool_count
	for i := 1; i < len(b.pool); i++ {
		e := b.pool[i]
		if e == nil {
			continue // second slot of long/double
		}
		if err := writePoolEntry(&buf, e); err != nil {
			return nil, fmt.Errorf("writing constant pool entry %d: %w", i, err)
		}
	}

	w(uint16(AccPublic | AccSuper))
	w(b.classes[b.className])       // this_class
	w(b.classes["java/lang/Object"]) // super_class
	w(uint16(0))                    // interfaces_count
	w(uint16(0))                    // fields_count

	w(uint16(len(b.methods)))
	for _, m := range b.methods {
		w(m.accessFlags)
		w(b.utf8s[m.name])
		w(b.utf8s[m.descriptor])
		if m.code == nil {
			w(uint16(0))
			continue
		}
		w(uint16(1)) // attributes_count: Code only
		w(b.utf8s["Code"])
		codeLen, err := safecast.Convert[uint32](len(m.code))
		if err != nil {
			return nil, fmt.Errorf("method %s bytecode too large: %w", m.name, err)
		}
		attrLen := 2 + 2 + 4 + len(m.code) + 2 + 8*len(m.handlers) + 2
		w(uint32(attrLen))
		w(m.maxStack)
		w(m.maxLocals)
		w(codeLen)
		buf.Write(m.code)
		w(uint16(len(m.handlers)))
		for _, h := range m.handlers {
			w(h.StartPC)
			w(h.EndPC)
			w(h.HandlerPC)
			w(h.CatchType)
		}
		w(uint16(0)) // no nested attributes
	}

	w(uint16(0)) // class attributes_count

	return buf.Bytes(), nil
}

func writePoolEntry(buf *bytes.Buffer, e ConstantPoolEntry) error {
	buf.WriteByte(e.Tag())
	switch c := e.(type) {
	case *ConstantUtf8:
		length, err := safecast.Convert[uint16](len(c.Value))
		if err != nil {
			return fmt.Errorf("Utf8 constant too long: %w", err)
		}
		binary.Write(buf, binary.BigEndian, length)
		buf.WriteString(c.Value)
	case *ConstantInteger:
		binary.Write(buf, binary.BigEndian, c.Value)
	case *ConstantFloat:
		binary.Write(buf, binary.BigEndian, math.Float32bits(c.Value))
	case *ConstantLong:
		binary.Write(buf, binary.BigEndian, c.Value)
	case *ConstantDouble:
		binary.Write(buf, binary.BigEndian, math.Float64bits(c.Value))
	case *ConstantClass:
		binary.Write(buf, binary.BigEndian, c.NameIndex)
	case *ConstantString:
		binary.Write(buf, binary.BigEndian, c.StringIndex)
	case *ConstantFieldref:
		binary.Write(buf, binary.BigEndian, c.ClassIndex)
		binary.Write(buf, binary.BigEndian, c.NameAndTypeIndex)
	case *ConstantMethodref:
		binary.Write(buf, binary.BigEndian, c.ClassIndex)
		binary.Write(buf, binary.BigEndian, c.NameAndTypeIndex)
	case *ConstantInterfaceMethodref:
		binary.Write(buf, binary.BigEndian, c.ClassIndex)
		binary.Write(buf, binary.BigEndian, c.NameAndTypeIndex)
	case *ConstantNameAndType:
		binary.Write(buf, binary.BigEndian, c.NameIndex)
		binary.Write(buf, binary.BigEndian, c.DescriptorIndex)
	default:
		return fmt.Errorf("unsupported constant pool entry tag %d", e.Tag())
	}
	return nil
}
