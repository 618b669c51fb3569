package npe

// Opcodes that can raise NullPointerException on a null reference. Only
// these get a synthesized message; anything else is left untouched.
const (
	opIaload = 0x2E
	opLaload = 0x2F
	opFaload = 0x30
	opDaload = 0x31
	opAaload = 0x32
	opBaload = 0x33
	opCaload = 0x34
	opSaload = 0x35

	opIastore = 0x4F
	opLastore = 0x50
	opFastore = 0x51
	opDastore = 0x52
	opAastore = 0x53
	opBastore = 0x54
	opCastore = 0x55
	opSastore = 0x56

	opGetfield        = 0xB4
	opPutfield        = 0xB5
	opInvokevirtual   = 0xB6
	opInvokespecial   = 0xB7
	opInvokeinterface = 0xB9

	opArraylength  = 0xBE
	opMonitorenter = 0xC2
	opMonitorexit  = 0xC3
)

// template is a diagnostic message pattern. text carries at most one %s
// (member name) and one %d (bytecode index).
type template struct {
	text        string
	needsSymbol bool
	needsBCI    bool
}

// messageTemplate classifies an opcode. The second return value is false
// for opcodes outside the table.
func messageTemplate(opcode byte) (template, bool) {
	switch opcode {
	case opIaload:
		return template{"Load from null int array at bci %d", false, true}, true
	case opLaload:
		return template{"Load from null long array at bci %d", false, true}, true
	case opFaload:
		return template{"Load from null float array at bci %d", false, true}, true
	case opDaload:
		return template{"Load from null double array at bci %d", false, true}, true
	case opAaload:
		return template{"Load from null Object array at bci %d", false, true}, true
	case opBaload:
		return template{"Load from null byte/boolean array at bci %d", false, true}, true
	case opCaload:
		return template{"Load from null char array at bci %d", false, true}, true
	case opSaload:
		return template{"Load from null short array at bci %d", false, true}, true

	case opIastore:
		return template{"Store into null int array at bci %d", false, true}, true
	case opLastore:
		return template{"Store into null long array at bci %d", false, true}, true
	case opFastore:
		return template{"Store into null float array at bci %d", false, true}, true
	case opDastore:
		return template{"Store into null double array at bci %d", false, true}, true
	case opAastore:
		return template{"Store into null Object array at bci %d", false, true}, true
	case opBastore:
		return template{"Store into null byte/boolean array at bci %d", false, true}, true
	case opCastore:
		return template{"Store into null char array at bci %d", false, true}, true
	case opSastore:
		return template{"Store into null short array at bci %d", false, true}, true

	case opArraylength:
		return template{"Get .length of null array", false, false}, true

	case opGetfield:
		return template{"Get field '%s' of null object at bci %d", true, true}, true
	case opPutfield:
		return template{"Put field '%s' of null object at bci %d", true, true}, true

	case opInvokevirtual, opInvokespecial, opInvokeinterface:
		return template{"Called method '%s()' on null object at bci %d", true, true}, true

	case opMonitorenter, opMonitorexit:
		return template{"Synchronized on null monitor at bci %d", false, true}, true

	default:
		return template{}, false
	}
}
