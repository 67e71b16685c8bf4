package frontend

import (
	"strconv"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/wire"
)

// xorInto XORs src into dst in place, extending dst with zero bytes if
// src is longer (blocks are always BlockSize bytes in practice, but the
// helper stays defensive since it is the RAID-5 correctness primitive).
func xorInto(dst, src []byte) []byte {
	if len(dst) < len(src) {
		grown := make([]byte, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, b := range src {
		dst[i] ^= b
	}
	return dst
}

// FailureWindow/FailureThreshold bound how many request failures against a
// single disk within the window are tolerated before the Orchestrator
// marks its slot failed (spec.md §4.8 "Failure detection"), using
// go-catrate's sliding-window limiter rather than a hand-rolled counter —
// the same library blockdevice.LoginLimiter already uses for a matching
// hysteresis problem.
const (
	FailureWindow    = 10 * time.Second
	FailureThreshold = 3
)

// stripeQueue serializes every write against one stripe (spec.md §4.8
// "single in-flight writer per stripe"), since a read-modify-write cycle
// spans multiple outstanding BlockDeviceClient requests and must not
// interleave with a concurrent write to the same stripe.
type stripeQueue struct {
	running bool
	pending []func()
}

// Orchestrator drives RAID-5 reads and writes for one Volume, dispatching
// BlockDeviceClient requests through the shared Reactor (C9, spec.md
// §4.8). Every public method is asynchronous: it returns immediately and
// invokes its callback once the operation completes, since the
// underlying disk requests are themselves async reactor Pollables.
type Orchestrator struct {
	r       *reactor.Reactor
	vol     *Volume
	timeout time.Duration
	log     logx.Logger

	failLimiter *catrate.Limiter

	stripes map[int64]*stripeQueue
}

// NewOrchestrator builds an Orchestrator for vol, dispatching outbound
// requests through r.
func NewOrchestrator(r *reactor.Reactor, vol *Volume, timeout time.Duration, log logx.Logger) *Orchestrator {
	return &Orchestrator{
		r:       r,
		vol:     vol,
		timeout: timeout,
		log:     log,
		failLimiter: catrate.NewLimiter(map[time.Duration]int{
			FailureWindow: FailureThreshold,
		}),
		stripes: map[int64]*stripeQueue{},
	}
}

// dial issues one GET/PUT against disk i's current address, classifying
// failures and invoking markFailed when the request itself errors.
func (o *Orchestrator) dial(i int, method, uri string, body []byte, cb func(resp Response, err error)) {
	slot := o.vol.Slot(i)
	if slot.State == SlotOffline || slot.State == SlotFailed || slot.Address == "" {
		cb(Response{}, raiderr.Wrap(raiderr.ErrDiskMissing, "disk slot unavailable"))
		return
	}
	client, err := Dial(slot.Address, slot.Port, method, uri, nil, body, o.timeout, o.log, func(resp Response, err error) {
		if err != nil {
			o.markFailed(i)
			cb(resp, ClassifyStatus(err))
			return
		}
		cb(resp, nil)
	})
	if err != nil {
		o.markFailed(i)
		cb(Response{}, ClassifyStatus(err))
		return
	}
	o.r.Submit(client)
}

func (o *Orchestrator) getBlock(i int, stripe int64, cb func(data []byte, err error)) {
	uri := "/get_block?block=" + strconv.FormatInt(stripe, 10)
	o.dial(i, "GET", uri, nil, func(resp Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		cb(resp.Body, nil)
	})
}

func (o *Orchestrator) putBlock(i int, stripe int64, data []byte, cb func(err error)) {
	uri := "/set_block?block=" + strconv.FormatInt(stripe, 10)
	o.dial(i, "POST", uri, data, func(_ Response, err error) {
		cb(err)
	})
}

// markFailed records a failed request against disk i's hysteresis budget
// (spec.md §4.8), transitioning its slot to failed only once it has
// exceeded FailureThreshold failures within FailureWindow — a single
// transient error degrades nothing.
func (o *Orchestrator) markFailed(i int) {
	if _, ok := o.failLimiter.Allow(i); ok {
		o.log.Warning().Int("disk", i).Log("disk request failed")
		return
	}
	o.log.Err().Int("disk", i).Log("disk exceeded failure threshold, marking failed")
	o.vol.SetSlotState(i, SlotFailed)
}

// Read resolves one logical block, transparently reconstructing it from
// parity if its owning disk is not online (spec.md §4.8).
func (o *Orchestrator) Read(lba int64, cb func(data []byte, err error)) {
	if o.vol.Dead() {
		cb(nil, raiderr.Wrap(raiderr.ErrVolumeDead, "volume has insufficient online disks"))
		return
	}
	layout := wire.Locate(lba, o.vol.N)
	slot := o.vol.Slot(layout.DataDisk)
	if slot.State == SlotOnline {
		o.getBlock(layout.DataDisk, layout.Stripe, func(data []byte, err error) {
			if err == nil {
				cb(data, nil)
				return
			}
			o.reconstructRead(layout, cb)
		})
		return
	}
	o.reconstructRead(layout, cb)
}

// reconstructRead recovers one disk's block for a stripe by XORing every
// other disk's block in that stripe together (RAID-5's parity identity,
// spec.md §3).
func (o *Orchestrator) reconstructRead(layout wire.StripeLayout, cb func(data []byte, err error)) {
	missing := layout.DataDisk
	disks := wire.StripeDisks(o.vol.N)

	type result struct {
		data []byte
		err  error
	}
	results := make([]result, o.vol.N)
	remaining := 0
	for _, d := range disks {
		if d == missing {
			continue
		}
		remaining++
	}
	if remaining == 0 {
		cb(nil, raiderr.Wrap(raiderr.ErrVolumeDead, "no surviving disks in stripe"))
		return
	}

	done := 0
	failed := false
	for _, d := range disks {
		if d == missing {
			continue
		}
		d := d
		o.getBlock(d, layout.Stripe, func(data []byte, err error) {
			done++
			if err != nil {
				failed = true
			} else {
				results[d] = result{data: data}
			}
			if done < remaining {
				return
			}
			if failed {
				cb(nil, raiderr.Wrap(raiderr.ErrVolumeDead, "reconstruction read failed, two disks unavailable"))
				return
			}
			var out []byte
			for _, d2 := range disks {
				if d2 == missing {
					continue
				}
				if out == nil {
					out = append([]byte(nil), results[d2].data...)
				} else {
					out = xorInto(out, results[d2].data)
				}
			}
			cb(out, nil)
		})
	}
}

// Write performs a RAID-5 read-modify-write of one logical block,
// serialized per-stripe via withStripeLock (spec.md §4.8).
func (o *Orchestrator) Write(lba int64, data []byte, cb func(err error)) {
	if o.vol.Dead() {
		cb(raiderr.Wrap(raiderr.ErrVolumeDead, "volume has insufficient online disks"))
		return
	}
	layout := wire.Locate(lba, o.vol.N)
	o.withStripeLock(layout.Stripe, func(done func()) {
		o.doWrite(layout, data, func(err error) {
			done()
			cb(err)
		})
	})
}

// withStripeLock runs fn once no other write against stripe is
// outstanding; fn must call the done callback it receives exactly once,
// when the stripe may be unlocked for the next queued write.
func (o *Orchestrator) withStripeLock(stripe int64, fn func(done func())) {
	q, ok := o.stripes[stripe]
	if !ok {
		q = &stripeQueue{}
		o.stripes[stripe] = q
	}
	run := func() {
		q.running = true
		fn(func() { o.stripeDone(stripe) })
	}
	if q.running {
		q.pending = append(q.pending, run)
		return
	}
	run()
}

func (o *Orchestrator) stripeDone(stripe int64) {
	q, ok := o.stripes[stripe]
	if !ok {
		return
	}
	q.running = false
	if len(q.pending) == 0 {
		delete(o.stripes, stripe)
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	next()
}

// doWrite picks one of three branches depending on slot health (spec.md
// §4.8 "Degraded writes"): full read-modify-write, parity-disk-offline
// (data write only, parity marked stale), or data-disk-offline
// (recompute parity from every surviving data block, data itself lost
// until rebuild).
func (o *Orchestrator) doWrite(layout wire.StripeLayout, data []byte, cb func(err error)) {
	dataSlot := o.vol.Slot(layout.DataDisk)
	paritySlot := o.vol.Slot(layout.ParityDisk)

	switch {
	case dataSlot.State == SlotOnline && paritySlot.State == SlotOnline:
		o.writeFull(layout, data, cb)
	case dataSlot.State == SlotOnline:
		// parity disk unavailable: persist data, parity now stale.
		o.putBlock(layout.DataDisk, layout.Stripe, data, func(err error) {
			if err == nil {
				o.vol.MarkParityStale(layout.Stripe)
			}
			cb(err)
		})
	case paritySlot.State == SlotOnline:
		o.writeDataDiskOffline(layout, data, cb)
	default:
		cb(raiderr.Wrap(raiderr.ErrVolumeDead, "both data and parity disks unavailable"))
	}
}

// writeFull is the common case: read old data and old parity, compute
// newParity = oldData XOR oldParity XOR newData, then persist both new
// blocks.
func (o *Orchestrator) writeFull(layout wire.StripeLayout, newData []byte, cb func(err error)) {
	var oldData, oldParity []byte
	var gotData, gotParity bool
	var failed error

	maybeProceed := func() {
		if !gotData || !gotParity {
			return
		}
		if failed != nil {
			cb(failed)
			return
		}
		parity := append([]byte(nil), oldData...)
		parity = xorInto(parity, oldParity)
		parity = xorInto(parity, newData)

		var dataErr, parityErr error
		doneCount := 0
		onOne := func(err error) {
			doneCount++
			if err != nil && dataErr == nil && parityErr == nil {
				// the data-write error, if any, is reported ahead of the
				// parity-write error below, whichever finished first
			}
			if doneCount < 2 {
				return
			}
			if dataErr != nil {
				cb(dataErr)
				return
			}
			cb(parityErr)
		}
		o.putBlock(layout.DataDisk, layout.Stripe, newData, func(err error) {
			dataErr = err
			onOne(err)
		})
		o.putBlock(layout.ParityDisk, layout.Stripe, parity, func(err error) {
			parityErr = err
			onOne(err)
		})
	}

	o.getBlock(layout.DataDisk, layout.Stripe, func(d []byte, err error) {
		oldData, gotData = d, true
		if err != nil {
			failed = err
		}
		maybeProceed()
	})
	o.getBlock(layout.ParityDisk, layout.Stripe, func(d []byte, err error) {
		oldParity, gotParity = d, true
		if err != nil && failed == nil {
			failed = err
		}
		maybeProceed()
	})
}

// writeDataDiskOffline recomputes parity directly from every other
// surviving data disk in the stripe XORed with newData, since the old
// data block cannot be read to cancel out of the parity identity. The
// new data itself is not durable until the data disk is replaced and
// rebuilt.
func (o *Orchestrator) writeDataDiskOffline(layout wire.StripeLayout, newData []byte, cb func(err error)) {
	disks := wire.StripeDisks(o.vol.N)
	remaining := 0
	for _, d := range disks {
		if d == layout.DataDisk || d == layout.ParityDisk {
			continue
		}
		remaining++
	}

	parity := append([]byte(nil), newData...)
	if remaining == 0 {
		o.putBlock(layout.ParityDisk, layout.Stripe, parity, cb)
		return
	}

	done := 0
	var failed error
	for _, d := range disks {
		if d == layout.DataDisk || d == layout.ParityDisk {
			continue
		}
		o.getBlock(d, layout.Stripe, func(block []byte, err error) {
			done++
			if err != nil {
				failed = err
			} else {
				parity = xorInto(parity, block)
			}
			if done < remaining {
				return
			}
			if failed != nil {
				cb(raiderr.Wrap(raiderr.ErrVolumeDead, "degraded write reconstruction failed"))
				return
			}
			o.putBlock(layout.ParityDisk, layout.Stripe, parity, cb)
		})
	}
}
