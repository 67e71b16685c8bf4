package wire

// StripeLayout computes the RAID-5 left-symmetric mapping for a logical
// block address, per spec.md §3: stripe = LBA / (N-1); within-stripe = LBA
// mod (N-1); parity disk rotates backwards per stripe; the data disk index
// is the within-stripe offset, shifted past the parity disk.
type StripeLayout struct {
	Stripe     int64
	WithinStripe int
	ParityDisk int
	DataDisk   int
}

// Locate computes the StripeLayout for lba on a volume with n disks.
func Locate(lba int64, n int) StripeLayout {
	dataDisks := int64(n - 1)
	stripe := lba / dataDisks
	within := int(lba % dataDisks)

	parity := int(int64(n-1) - stripe%int64(n))

	data := within
	if data >= parity {
		data++
	}

	return StripeLayout{
		Stripe:       stripe,
		WithinStripe: within,
		ParityDisk:   parity,
		DataDisk:     data,
	}
}

// StripeDisks returns every disk index (0..n) participating in the given
// stripe's layout, ordered by disk index. Used by degraded-mode
// reconstruction, which must XOR every surviving block in the stripe.
func StripeDisks(n int) []int {
	disks := make([]int, n)
	for i := range disks {
		disks[i] = i
	}
	return disks
}
