package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mipsim/pkg/bitfield"
)

func TestDescriptorLayoutsCoverWord(t *testing.T) {
	set := NewInstructionSet()

	for _, d := range set.Descriptors() {
		if err := d.Layout().Validate(); err != nil {
			t.Errorf("%s: %v", d.Mnemonic, err)
		}
		if d.Fields[len(d.Fields)-1].Role != RoleOpcode {
			t.Errorf("%s: highest field is %s, want opcode", d.Mnemonic, d.Fields[len(d.Fields)-1].Role)
		}
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	set := NewInstructionSet()
	rnd := rand.New(rand.NewSource(42))

	for _, d := range set.Descriptors() {
		for i := 0; i < 500; i++ {
			values := make([]uint32, len(d.Fields))
			for j, f := range d.Fields {
				values[j] = rnd.Uint32() & bitfield.Mask(f.Width)
			}

			word, err := d.Pack(values)
			require.NoError(t, err)

			got := d.Unpack(word)
			for j, f := range d.Fields {
				want := values[j]
				if f.Kind == KindConst {
					want = f.Const
				}
				if got[j] != want {
					t.Fatalf("%s: field %s = %d, want %d", d.Mnemonic, f.Role, got[j], want)
				}
			}

			again, err := d.Pack(got)
			require.NoError(t, err)
			assert.Equal(t, word, again, d.Mnemonic)

			if word == 0 {
				continue
			}

			dec, ok := set.Decode(word)
			require.True(t, ok, "%s: %#08x does not decode", d.Mnemonic, word)
			assert.Equal(t, d.Mnemonic, dec.Mnemonic)
		}
	}
}

func TestEncodeKnownWords(t *testing.T) {
	set := NewInstructionSet()

	tests := []struct {
		mnemonic string
		roles    map[string]uint32
		want     uint32
	}{
		{"add", map[string]uint32{RoleRd: 10, RoleRs: 8, RoleRt: 9}, 0x01095020},
		{"addi", map[string]uint32{RoleRt: 8, RoleRs: 0, RoleImm: 5}, 0x20080005},
		{"lw", map[string]uint32{RoleRt: 8, RoleRs: 29, RoleImm: 4}, 0x8FA80004},
		{"j", map[string]uint32{RoleTarget: 100}, 0x08000064},
		{"syscall", nil, 0x0000000C},
		{"cvtif", map[string]uint32{RoleRd: 8, RoleRs: 9}, 0x45204020},
	}

	for _, tc := range tests {
		d, ok := set.Lookup(tc.mnemonic)
		require.True(t, ok, tc.mnemonic)

		got, err := d.Encode(tc.roles)
		require.NoError(t, err)

		if got != tc.want {
			t.Errorf("%s: expected %#08x, got %#08x", tc.mnemonic, tc.want, got)
		}
	}
}

func TestDisassemble(t *testing.T) {
	set := NewInstructionSet()

	enc := func(mn string, roles map[string]uint32) uint32 {
		d, ok := set.Lookup(mn)
		require.True(t, ok)
		w, err := d.Encode(roles)
		require.NoError(t, err)
		return w
	}

	assert.Equal(t, "add $t2, $t0, $t1", set.Disassemble(enc("add", map[string]uint32{RoleRd: 10, RoleRs: 8, RoleRt: 9})))
	assert.Equal(t, "lw $t0, -2($sp)", set.Disassemble(enc("lw", map[string]uint32{RoleRt: 8, RoleRs: 29, RoleImm: 0xFFFE})))
	assert.Equal(t, "ori $t0, $zero, 65535", set.Disassemble(enc("ori", map[string]uint32{RoleRt: 8, RoleImm: 0xFFFF})))
	assert.Equal(t, "syscall", set.Disassemble(enc("syscall", nil)))
	assert.Equal(t, "halt", set.Disassemble(0))
	assert.Equal(t, ".word 0xfc000000", set.Disassemble(0xFC000000))
}

func TestRegisterIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"$zero", RegZero, true},
		{"$a0", RegA0, true},
		{"a0", 4, true},
		{"$t0", RegT0, true},
		{"$t7", RegT7, true},
		{"$s0", RegS0, true},
		{"$sp", RegSP, true},
		{"$ra", RegRA, true},
		{"$31", 31, true},
		{"$32", 0, false},
		{"$bogus", 0, false},
	}

	for _, tc := range tests {
		got, ok := RegisterIndex(tc.name)
		if got != tc.want || ok != tc.ok {
			t.Errorf("RegisterIndex(%q) = %d, %v; want %d, %v", tc.name, got, ok, tc.want, tc.ok)
		}
	}

	seen := map[string]int{}
	for i := 0; i < NumRegisters; i++ {
		n := RegisterName(i)
		if prev, dup := seen[n]; dup {
			t.Errorf("register name %q used for %d and %d", n, prev, i)
		}
		seen[n] = i
	}
}
