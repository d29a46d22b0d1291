package bitfield

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rFormat = Layout{
	{"funct", 6},
	{"shamt", 5},
	{"rd", 5},
	{"rt", 5},
	{"rs", 5},
	{"opcode", 6},
}

func TestValidate(t *testing.T) {
	require.NoError(t, rFormat.Validate())

	short := Layout{{"imm", 16}, {"opcode", 6}}
	assert.Error(t, short.Validate())

	zero := Layout{{"a", 0}, {"b", 32}}
	assert.Error(t, zero.Validate())
}

func TestPackKnownWord(t *testing.T) {
	// add $t2, $t0, $t1
	word, err := rFormat.Pack([]uint32{0x20, 0, 10, 9, 8, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01095020), word)

	assert.Equal(t, []uint32{0x20, 0, 10, 9, 8, 0}, rFormat.Unpack(word))
}

func TestPackMasksToWidth(t *testing.T) {
	l := Layout{{"imm", 16}, {"rest", 16}}

	word, err := l.Pack([]uint32{0x12345, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2345), word)
}

func TestPackWrongArity(t *testing.T) {
	_, err := rFormat.Pack([]uint32{1, 2})
	assert.Error(t, err)
}

func TestRoundTripRandom(t *testing.T) {
	layouts := []Layout{
		rFormat,
		{{"imm", 16}, {"rt", 5}, {"rs", 5}, {"opcode", 6}},
		{{"target", 26}, {"opcode", 6}},
	}

	rnd := rand.New(rand.NewSource(1))

	for _, l := range layouts {
		for i := 0; i < 2000; i++ {
			values := make([]uint32, len(l))
			for j, f := range l {
				values[j] = rnd.Uint32() & Mask(f.Width)
			}

			word, err := l.Pack(values)
			require.NoError(t, err)
			assert.Equal(t, values, l.Unpack(word))

			w := rnd.Uint32()
			again, err := l.Pack(l.Unpack(w))
			require.NoError(t, err)
			assert.Equal(t, w, again)
		}
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		v     uint32
		width uint
		want  int32
	}{
		{0xFFFF, 16, -1},
		{0x7FFF, 16, 32767},
		{0x8000, 16, -32768},
		{0x0001, 16, 1},
		{0x3FFFFFF, 26, -1},
	}
	for _, tc := range tests {
		if got := SignExtend(tc.v, tc.width); got != tc.want {
			t.Errorf("SignExtend(%#x, %d) = %d; want %d", tc.v, tc.width, got, tc.want)
		}
	}
}

func TestOffsetAndFits(t *testing.T) {
	assert.Equal(t, 0, rFormat.Offset("funct"))
	assert.Equal(t, 11, rFormat.Offset("rd"))
	assert.Equal(t, 26, rFormat.Offset("opcode"))
	assert.Equal(t, -1, rFormat.Offset("imm"))

	assert.True(t, Fits(0xFFFF, 16))
	assert.False(t, Fits(0x10000, 16))
}
