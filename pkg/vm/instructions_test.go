package vm

import (
	"errors"
	"io"
	"testing"
)

// executeAndGetInt runs the given bytecodes in a fresh frame and returns
// the int result. The bytecodes must end with ireturn (0xAC). Optional
// locals are set as int32 values starting at index 0.
func executeAndGetInt(t *testing.T, code []byte, locals ...int32) int32 {
	t.Helper()

	maxLocals := uint16(len(locals))
	if maxLocals < 4 {
		maxLocals = 4
	}

	frame := testFrame(t, maxLocals, 10, code)
	for i, val := range locals {
		frame.SetLocal(i, IntValue(val))
	}

	v := &VM{Stdout: io.Discard}

	for frame.PC < len(frame.Code) {
		frame.InsnPC = frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++
		retVal, hasReturn, err := v.executeInstruction(frame, opcode)
		if err != nil {
			t.Fatalf("execution error at PC=%d: %v", frame.InsnPC, err)
		}
		if hasReturn {
			return retVal.Int
		}
	}

	t.Fatal("bytecode did not return a value (missing ireturn?)")
	return 0
}

// executeAndGetError runs the bytecodes expecting a JavaException and
// returns its class name.
func executeAndGetError(t *testing.T, code []byte, setup func(*Frame)) string {
	t.Helper()

	frame := testFrame(t, 4, 10, code)
	if setup != nil {
		setup(frame)
	}

	v := &VM{Stdout: io.Discard}

	for frame.PC < len(frame.Code) {
		frame.InsnPC = frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++
		_, hasReturn, err := v.executeInstruction(frame, opcode)
		if err != nil {
			var jex *JavaException
			if !errors.As(err, &jex) {
				t.Fatalf("expected JavaException, got %v", err)
			}
			return jex.Object.ClassName
		}
		if hasReturn {
			break
		}
	}

	t.Fatal("expected an exception")
	return ""
}

func TestIconst(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		want   int32
	}{
		{"iconst_m1", 0x02, -1},
		{"iconst_0", 0x03, 0},
		{"iconst_1", 0x04, 1},
		{"iconst_2", 0x05, 2},
		{"iconst_3", 0x06, 3},
		{"iconst_4", 0x07, 4},
		{"iconst_5", 0x08, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := []byte{tt.opcode, 0xAC} // iconst_N, ireturn
			got := executeAndGetInt(t, code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		// iload_0, iload_1, op, ireturn
		{"iadd", []byte{0x1A, 0x1B, 0x60, 0xAC}, 10},
		{"isub", []byte{0x1A, 0x1B, 0x64, 0xAC}, 4},
		{"imul", []byte{0x1A, 0x1B, 0x68, 0xAC}, 21},
		{"idiv", []byte{0x1A, 0x1B, 0x6C, 0xAC}, 2},
		{"irem", []byte{0x1A, 0x1B, 0x70, 0xAC}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.code, 7, 3)
			if got != tt.want {
				t.Errorf("%s(7, 3): got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestIincLoop(t *testing.T) {
	// ループで 0 から 5 まで加算する:
	//  0: iconst_0       (sum)
	//  1: istore_0
	//  2: iconst_0       (i)
	//  3: istore_1
	//  4: iload_1
	//  5: iconst_5
	//  6: if_icmpge +13 (-> 19)
	//  9: iload_0
	// 10: iload_1
	// 11: iadd
	// 12: istore_0
	// 13: iinc 1, 1
	// 16: goto -12 (-> 4)
	// 19: iload_0
	// 20: ireturn
	code := []byte{
		0x03, 0x3B, 0x03, 0x3C,
		0x1B, 0x08, 0xA2, 0x00, 13,
		0x1A, 0x1B, 0x60, 0x3B,
		0x84, 1, 1,
		0xA7, 0xFF, 0xF4,
		0x1A, 0xAC,
	}
	got := executeAndGetInt(t, code)
	if got != 10 { // 0+1+2+3+4
		t.Errorf("loop sum: got %d, want 10", got)
	}
}

func TestArrayLoadStore(t *testing.T) {
	// newarray int[3], arr[1] = 42, return arr[1]
	code := []byte{
		0x06,       // iconst_3
		0xBC, 0x0A, // newarray int
		0x4B,       // astore_0
		0x2A,       // aload_0
		0x04,       // iconst_1
		0x10, 42,   // bipush 42
		0x4F,       // iastore
		0x2A,       // aload_0
		0x04,       // iconst_1
		0x2E,       // iaload
		0xAC,       // ireturn
	}
	got := executeAndGetInt(t, code)
	if got != 42 {
		t.Errorf("array round trip: got %d, want 42", got)
	}
}

func TestArraylength(t *testing.T) {
	code := []byte{
		0x08,       // iconst_5
		0xBC, 0x0A, // newarray int
		0xBE, // arraylength
		0xAC, // ireturn
	}
	got := executeAndGetInt(t, code)
	if got != 5 {
		t.Errorf("arraylength: got %d, want 5", got)
	}
}

func TestNullPointerExceptions(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"iaload on null", []byte{0x01, 0x03, 0x2E}},      // aconst_null, iconst_0, iaload
		{"iastore on null", []byte{0x01, 0x03, 0x03, 0x4F}}, // aconst_null, iconst_0, iconst_0, iastore
		{"arraylength on null", []byte{0x01, 0xBE}},       // aconst_null, arraylength
		{"monitorenter on null", []byte{0x01, 0xC2}},      // aconst_null, monitorenter
		{"monitorexit on null", []byte{0x01, 0xC3}},       // aconst_null, monitorexit
		{"athrow null", []byte{0x01, 0xBF}},               // aconst_null, athrow
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetError(t, tt.code, nil)
			if got != "java/lang/NullPointerException" {
				t.Errorf("exception class: got %q", got)
			}
		})
	}
}

func TestArrayIndexOutOfBounds(t *testing.T) {
	// newarray int[1], load index 3
	code := []byte{
		0x04,       // iconst_1
		0xBC, 0x0A, // newarray int
		0x4B, // astore_0
		0x2A, // aload_0
		0x06, // iconst_3
		0x2E, // iaload
	}
	got := executeAndGetError(t, code, nil)
	if got != "java/lang/ArrayIndexOutOfBoundsException" {
		t.Errorf("exception class: got %q", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	code := []byte{0x04, 0x03, 0x6C} // iconst_1, iconst_0, idiv
	got := executeAndGetError(t, code, nil)
	if got != "java/lang/ArithmeticException" {
		t.Errorf("exception class: got %q", got)
	}
}

func TestMonitorPopsOperand(t *testing.T) {
	// monitorenter on a real object leaves the stack balanced:
	// push array, monitorenter, iconst_4, ireturn
	code := []byte{
		0x04,       // iconst_1
		0xBC, 0x0A, // newarray int
		0xC2, // monitorenter
		0x07, // iconst_4
		0xAC, // ireturn
	}
	got := executeAndGetInt(t, code)
	if got != 4 {
		t.Errorf("monitorenter: got %d, want 4", got)
	}
}

func TestLcmp(t *testing.T) {
	tests := []struct {
		name   string
		v1, v2 int64
		want   int32
	}{
		{"greater", 5, 3, 1},
		{"less", 3, 5, -1},
		{"equal", 4, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := testFrame(t, 0, 4, []byte{0x94, 0xAC}) // lcmp, ireturn
			frame.Push(LongValue(tt.v1))
			frame.Push(LongValue(tt.v2))

			v := &VM{Stdout: io.Discard}
			for frame.PC < len(frame.Code) {
				frame.InsnPC = frame.PC
				opcode := frame.Code[frame.PC]
				frame.PC++
				retVal, hasReturn, err := v.executeInstruction(frame, opcode)
				if err != nil {
					t.Fatalf("execution error: %v", err)
				}
				if hasReturn {
					if retVal.Int != tt.want {
						t.Errorf("lcmp(%d, %d): got %d, want %d", tt.v1, tt.v2, retVal.Int, tt.want)
					}
					return
				}
			}
		})
	}
}
