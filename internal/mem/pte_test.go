package mem

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// Round-trip property from spec §8: PTE::encode(decode(x)) == x for every
// bit pattern x in the defined flag + address domain.
func TestPTEEncodeDecodeRoundTrip(t *testing.T) {
	definedMask := uint64(FlagPresent|FlagWritable|FlagUser|FlagWriteThrough|
		FlagCacheDisable|FlagAccessed|FlagDirty|FlagHuge|FlagGlobal|FlagNoExecute) | physAddrMask

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		raw := r.Uint64() & definedMask
		p := PTE(raw)
		flags, frame := p.Decode()
		got := Encode(flags, frame)
		require.Equal(t, p, got, "round trip mismatch for 0x%x", raw)
	}
}

func TestPTEHasFlags(t *testing.T) {
	p := Encode(FlagPresent|FlagWritable, 0x1000)
	require.True(t, p.Present())
	require.True(t, p.HasFlags(FlagWritable))
	require.False(t, p.HasFlags(FlagUser))
	require.False(t, p.IsHuge())
}

func TestRangeWithinCanonical48(t *testing.T) {
	require.True(t, rangeWithinCanonical48(0x1000, 0x1000))
	require.True(t, rangeWithinCanonical48(0xFFFF_8000_0000_0000, 0x1000))
	// end wraps past the canonical boundary
	require.False(t, rangeWithinCanonical48(uintptr(1)<<47-0x1000, 0x2000))
}
