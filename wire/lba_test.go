package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocate_ThreeDiskStripe0(t *testing.T) {
	// N=3: parity disk for stripe 0 is (N-1 - 0%N) = 2.
	l := Locate(0, 3)
	assert.Equal(t, int64(0), l.Stripe)
	assert.Equal(t, 0, l.WithinStripe)
	assert.Equal(t, 2, l.ParityDisk)
	assert.Equal(t, 0, l.DataDisk)

	l = Locate(1, 3)
	assert.Equal(t, int64(0), l.Stripe)
	assert.Equal(t, 1, l.WithinStripe)
	assert.Equal(t, 2, l.ParityDisk)
	assert.Equal(t, 1, l.DataDisk)
}

func TestLocate_RotatesParityAcrossStripes(t *testing.T) {
	n := 3
	seen := map[int]bool{}
	for stripe := int64(0); stripe < int64(n); stripe++ {
		l := Locate(stripe*int64(n-1), n)
		seen[l.ParityDisk] = true
	}
	assert.Len(t, seen, n, "parity disk should rotate through every disk index over N stripes")
}

func TestLocate_DataDiskSkipsParity(t *testing.T) {
	n := 4
	for lba := int64(0); lba < 20; lba++ {
		l := Locate(lba, n)
		assert.NotEqual(t, l.ParityDisk, l.DataDisk, "data disk must never equal parity disk (lba=%d)", lba)
	}
}

func TestStripeDisks(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3}, StripeDisks(4))
}
