package npe

import (
	"encoding/binary"
	"fmt"

	"github.com/daimatz/gojvmti/pkg/classfile"
)

// RawPool is a class's constant pool exactly as serialized in the class
// file: variable-length records addressable only by sequential scan from
// logical entry 1. No offset table exists, so locating entry N costs
// O(N); the resolver performs at most three scans per fault.
type RawPool struct {
	// Count is the constant_pool_count field: logical entries plus one.
	Count uint16
	Bytes []byte
	// Unchecked skips validation of logical indices against Count.
	// Cursor advances are still bounds-checked, so a corrupt pool yields
	// an error, never a panic.
	Unchecked bool
}

// cpItemSize is the serialized record length per constant pool tag.
// Utf8 (tag 1) is the sole variable-length record and is handled
// separately; zero marks tags that cannot appear.
var cpItemSize = [...]int{0, 3, 0, 5, 5, 9, 9, 3, 3, 5, 5, 5, 5, 4, 3, 5, 5, 3, 3}

// entryOffset returns the byte offset of the record for the 1-based
// logical index. Long and double records occupy two consecutive logical
// indices while contributing a single serialized record.
func (p RawPool) entryOffset(index uint16) (int, error) {
	if index == 0 {
		return 0, fmt.Errorf("constant pool index 0 is unused")
	}
	if !p.Unchecked && index >= p.Count {
		return 0, fmt.Errorf("constant pool index %d out of range (count %d)", index, p.Count)
	}

	off := 0
	for i := uint16(1); i < index; i++ {
		if off >= len(p.Bytes) {
			return 0, fmt.Errorf("constant pool truncated while scanning for index %d", index)
		}
		tag := p.Bytes[off]
		switch {
		case tag == classfile.TagUtf8:
			if off+3 > len(p.Bytes) {
				return 0, fmt.Errorf("constant pool truncated in Utf8 length at offset %d", off)
			}
			off += 3 + int(binary.BigEndian.Uint16(p.Bytes[off+1:off+3]))
		case tag == classfile.TagLong || tag == classfile.TagDouble:
			off += 9
			i++ // second logical slot is unused
		case int(tag) < len(cpItemSize) && cpItemSize[tag] > 0:
			off += cpItemSize[tag]
		default:
			return 0, fmt.Errorf("unknown constant pool tag %d at offset %d", tag, off)
		}
	}
	if off >= len(p.Bytes) {
		return 0, fmt.Errorf("constant pool index %d beyond pool data", index)
	}
	return off, nil
}

// u2 reads a big-endian uint16 at off.
func (p RawPool) u2(off int) (uint16, error) {
	if off < 0 || off+2 > len(p.Bytes) {
		return 0, fmt.Errorf("constant pool read of 2 bytes at offset %d out of bounds", off)
	}
	return binary.BigEndian.Uint16(p.Bytes[off : off+2]), nil
}

// MemberName resolves the plain name of the field or method referenced by
// the Fieldref/Methodref entry at index: ref -> NameAndType -> Utf8. It
// returns neither the owner class nor the descriptor, only the name.
func (p RawPool) MemberName(index uint16) (string, error) {
	ref, err := p.entryOffset(index)
	if err != nil {
		return "", fmt.Errorf("resolving member ref: %w", err)
	}
	if !p.Unchecked {
		switch p.Bytes[ref] {
		case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		default:
			return "", fmt.Errorf("constant pool index %d is not a member ref (tag %d)", index, p.Bytes[ref])
		}
	}

	// Fieldref/Methodref: tag, class_index, name_and_type_index
	natIndex, err := p.u2(ref + 3)
	if err != nil {
		return "", err
	}
	nat, err := p.entryOffset(natIndex)
	if err != nil {
		return "", fmt.Errorf("resolving NameAndType: %w", err)
	}

	// NameAndType: tag, name_index, descriptor_index
	nameIndex, err := p.u2(nat + 1)
	if err != nil {
		return "", err
	}
	name, err := p.entryOffset(nameIndex)
	if err != nil {
		return "", fmt.Errorf("resolving Utf8 name: %w", err)
	}
	if !p.Unchecked && p.Bytes[name] != classfile.TagUtf8 {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag %d)", nameIndex, p.Bytes[name])
	}

	// Utf8: tag, length, bytes
	length, err := p.u2(name + 1)
	if err != nil {
		return "", err
	}
	if name+3+int(length) > len(p.Bytes) {
		return "", fmt.Errorf("Utf8 payload of %d bytes at offset %d out of bounds", length, name+3)
	}
	return string(p.Bytes[name+3 : name+3+int(length)]), nil
}
