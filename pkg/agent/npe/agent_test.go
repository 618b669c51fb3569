package npe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojvmti/pkg/classfile"
	"github.com/daimatz/gojvmti/pkg/jvmti"
)

// fixture builds a class whose pool contains a field "name" and a
// method "get", and returns the raw pool plus both ref indices.
func fixture(t *testing.T) (RawPool, uint16, uint16) {
	t.Helper()

	b := classfile.NewBuilder("Fixture")
	fieldIdx := b.Fieldref("Fixture", "name", "Ljava/lang/String;")
	methodIdx := b.Methodref("Fixture", "get", "()I")
	data, err := b.Bytes()
	require.NoError(t, err)
	cf, err := classfile.ParseBytes(data)
	require.NoError(t, err)
	return RawPool{Count: cf.ConstantPoolCount, Bytes: cf.RawConstantPool}, fieldIdx, methodIdx
}

func TestDescribeSimpleOpcodes(t *testing.T) {
	pool := RawPool{}

	tests := []struct {
		name     string
		bytecode []byte
		location int
		want     string
	}{
		{"arraylength", []byte{0x01, 0xBE}, 1, "Get .length of null array"},
		{"iaload", []byte{0x2E}, 0, "Load from null int array at bci 0"},
		{"baload", []byte{0x33}, 0, "Load from null byte/boolean array at bci 0"},
		{"iastore at 7", []byte{0, 0, 0, 0, 0, 0, 0, 0x4F}, 7, "Store into null int array at bci 7"},
		{"dastore", []byte{0x52}, 0, "Store into null double array at bci 0"},
		{"monitorenter", []byte{0xC2}, 0, "Synchronized on null monitor at bci 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Describe(tt.bytecode, tt.location, pool)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribeMemberOpcodes(t *testing.T) {
	pool, fieldIdx, methodIdx := fixture(t)

	t.Run("getfield", func(t *testing.T) {
		code := []byte{0xB4, byte(fieldIdx >> 8), byte(fieldIdx)}
		got, ok := Describe(code, 0, pool)
		require.True(t, ok)
		assert.Equal(t, "Get field 'name' of null object at bci 0", got)
	})

	t.Run("putfield", func(t *testing.T) {
		code := []byte{0xB5, byte(fieldIdx >> 8), byte(fieldIdx)}
		got, ok := Describe(code, 0, pool)
		require.True(t, ok)
		assert.Equal(t, "Put field 'name' of null object at bci 0", got)
	})

	t.Run("invokevirtual at bci 19", func(t *testing.T) {
		code := make([]byte, 19)
		code = append(code, 0xB6, byte(methodIdx>>8), byte(methodIdx))
		got, ok := Describe(code, 19, pool)
		require.True(t, ok)
		assert.Equal(t, "Called method 'get()' on null object at bci 19", got)
	})

	t.Run("invokeinterface renders like a call", func(t *testing.T) {
		code := []byte{0xB9, byte(methodIdx >> 8), byte(methodIdx), 1, 0}
		got, ok := Describe(code, 0, pool)
		require.True(t, ok)
		assert.Equal(t, "Called method 'get()' on null object at bci 0", got)
	})
}

func TestDescribeDeclines(t *testing.T) {
	pool := RawPool{}

	t.Run("location out of range", func(t *testing.T) {
		_, ok := Describe([]byte{0xBE}, 5, pool)
		assert.False(t, ok)
	})

	t.Run("negative location", func(t *testing.T) {
		_, ok := Describe([]byte{0xBE}, -1, pool)
		assert.False(t, ok)
	})

	t.Run("unrecognized opcode", func(t *testing.T) {
		_, ok := Describe([]byte{0x00}, 0, pool)
		assert.False(t, ok)
	})

	t.Run("truncated operand", func(t *testing.T) {
		// getfield needs 2 operand bytes
		_, ok := Describe([]byte{0xB4, 0x00}, 0, pool)
		assert.False(t, ok)
	})
}

func TestDescribeFallsBackToUnknownMember(t *testing.T) {
	// The pool cannot resolve index 0x0FFF: message still renders.
	pool, _, _ := fixture(t)
	code := []byte{0xB4, 0x0F, 0xFF}
	got, ok := Describe(code, 0, pool)
	require.True(t, ok)
	assert.Equal(t, "Get field '<unknown>' of null object at bci 0", got)
}

func TestDescribeIsDeterministic(t *testing.T) {
	pool, fieldIdx, _ := fixture(t)
	code := []byte{0xB4, byte(fieldIdx >> 8), byte(fieldIdx)}

	first, ok := Describe(code, 0, pool)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := Describe(code, 0, pool)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestBoundTruncatesLongMessages(t *testing.T) {
	assert.Len(t, bound(strings.Repeat("x", 1000)), maxMessageLen)
	assert.Equal(t, "short", bound("short"))
}

// fakeEnv implements just enough of jvmti.Env for the agent paths under
// test. The embedded interface panics on anything unexpected.
type fakeEnv struct {
	jvmti.Env

	caps      jvmti.Capabilities
	callbacks jvmti.EventCallbacks
	enabled   map[jvmti.EventKind]bool

	bytecode    []byte
	bytecodeErr error
	pool        RawPool
	instanceOf  bool
	fields      map[string]interface{}
}

func newFakeEnv(bytecode []byte, pool RawPool) *fakeEnv {
	return &fakeEnv{
		enabled:    make(map[jvmti.EventKind]bool),
		bytecode:   bytecode,
		pool:       pool,
		instanceOf: true,
		fields:     make(map[string]interface{}),
	}
}

func (e *fakeEnv) AddCapabilities(caps jvmti.Capabilities) error {
	e.caps = caps
	return nil
}

func (e *fakeEnv) SetEventCallbacks(callbacks jvmti.EventCallbacks) {
	e.callbacks = callbacks
}

func (e *fakeEnv) SetEventNotificationMode(enable bool, kind jvmti.EventKind) {
	e.enabled[kind] = enable
}

func (e *fakeEnv) GetBytecodes(method jvmti.Method) ([]byte, error) {
	return e.bytecode, e.bytecodeErr
}

func (e *fakeEnv) GetMethodDeclaringClass(method jvmti.Method) (jvmti.Class, error) {
	return "fixture-class", nil
}

func (e *fakeEnv) GetConstantPool(class jvmti.Class) (uint16, []byte, error) {
	return e.pool.Count, e.pool.Bytes, nil
}

func (e *fakeEnv) IsInstanceOf(object jvmti.Object, className string) bool {
	return e.instanceOf
}

func (e *fakeEnv) SetObjectField(object jvmti.Object, name string, value interface{}) error {
	e.fields[name] = value
	return nil
}

func TestLoadNegotiatesCapabilitiesAndSubscribes(t *testing.T) {
	env := newFakeEnv(nil, RawPool{})
	require.NoError(t, Load(env))

	assert.True(t, env.caps.CanGenerateExceptionEvents)
	assert.True(t, env.caps.CanGetBytecodes)
	assert.True(t, env.caps.CanGetConstantPool)
	assert.True(t, env.enabled[jvmti.EventException])
	require.NotNil(t, env.callbacks.Exception)
}

func TestCallbackInstallsMessage(t *testing.T) {
	pool, fieldIdx, _ := fixture(t)
	code := []byte{0xB4, byte(fieldIdx >> 8), byte(fieldIdx)}
	env := newFakeEnv(code, pool)
	require.NoError(t, Load(env))

	env.callbacks.Exception(env, nil, nil, 0, "exc", nil, -1)

	assert.Equal(t, "Get field 'name' of null object at bci 0", env.fields["detailMessage"])
}

func TestCallbackIgnoresOtherExceptionTypes(t *testing.T) {
	pool, fieldIdx, _ := fixture(t)
	code := []byte{0xB4, byte(fieldIdx >> 8), byte(fieldIdx)}
	env := newFakeEnv(code, pool)
	env.instanceOf = false
	require.NoError(t, Load(env))

	env.callbacks.Exception(env, nil, nil, 0, "exc", nil, -1)

	assert.Empty(t, env.fields)
}

func TestCallbackDegradesWhenBytecodeUnavailable(t *testing.T) {
	env := newFakeEnv(nil, RawPool{})
	env.bytecodeErr = jvmti.ErrAbsentInformation
	require.NoError(t, Load(env))

	env.callbacks.Exception(env, nil, nil, 0, "exc", nil, -1)

	assert.Empty(t, env.fields)
}

func TestCallbackLeavesUnrecognizedOpcodesAlone(t *testing.T) {
	env := newFakeEnv([]byte{0x00}, RawPool{})
	require.NoError(t, Load(env))

	env.callbacks.Exception(env, nil, nil, 0, "exc", nil, -1)

	assert.Empty(t, env.fields)
}
