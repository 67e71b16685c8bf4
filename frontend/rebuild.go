package frontend

import (
	"context"
	"time"

	"github.com/joeycumines/go-microbatch"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/wire"
)

// RebuildCheckpointInterval resolves spec.md §9 open question (c): how
// often rebuild progress is persisted to the replacement disk's header.
// Batched via go-microbatch rather than checkpointing every stripe, for
// far fewer header writes. The checkpoint is only written: a new
// Rebuilder always starts at stripe 0 and does not read a previous
// checkpoint back from the disk.
const RebuildCheckpointInterval = 64

// Rebuilder drives the reconstruction of one replacement disk, stripe by
// stripe, for a Volume slot in SlotRebuilding state (spec.md §4.8
// "Rebuild"). Progress checkpoints batch through a microbatch.Batcher
// whose background goroutine bridges back onto the Reactor via
// Orchestrator's dial (itself safe to call cross-goroutine, since
// Reactor.Submit is) and blocks on a channel for the checkpoint write to
// complete before acknowledging the batch.
type Rebuilder struct {
	vol       *Volume
	orch      *Orchestrator
	diskIndex int
	total     int64 // total stripes to rebuild
	next      int64
	active    bool
	done      bool
	log       logx.Logger

	batcher *microbatch.Batcher[int64]
}

// NewRebuilder begins rebuilding vol's slot diskIndex, which must already
// be in SlotRebuilding state (spec.md §4.7 "Bind" assigns a replacement
// disk this way), reconstructing totalStripes worth of data.
func NewRebuilder(vol *Volume, orch *Orchestrator, diskIndex int, totalStripes int64, log logx.Logger) *Rebuilder {
	rb := &Rebuilder{
		vol:       vol,
		orch:      orch,
		diskIndex: diskIndex,
		total:     totalStripes,
		log:       log,
	}
	rb.batcher = microbatch.NewBatcher[int64](&microbatch.BatcherConfig{
		MaxSize:       RebuildCheckpointInterval,
		FlushInterval: 2 * time.Second,
	}, rb.checkpoint)
	return rb
}

// Done reports whether every stripe has been reconstructed and the
// replacement disk is fully caught up.
func (rb *Rebuilder) Done() bool { return rb.done }

// Step reconstructs and writes the next stripe, if one isn't already in
// flight; intended to be called from Orchestrator's owning Reactor on
// every idle tick (spec.md §4.2 step 2) until Done reports true.
func (rb *Rebuilder) Step() {
	if rb.active || rb.done {
		return
	}
	if rb.next >= rb.total {
		rb.finish()
		return
	}
	rb.active = true
	stripe := rb.next
	rb.reconstructStripe(stripe, func(data []byte, err error) {
		if err != nil {
			rb.active = false
			rb.log.Err().Err(err).Int64("stripe", stripe).Log("rebuild reconstruction failed")
			return
		}
		rb.orch.putBlock(rb.diskIndex, stripe, data, func(err error) {
			rb.active = false
			if err != nil {
				rb.log.Err().Err(err).Int64("stripe", stripe).Log("rebuild write failed")
				return
			}
			rb.next = stripe + 1
			rb.vol.SetSlotGeneration(rb.diskIndex, uint64(rb.next))
			if _, err := rb.batcher.Submit(context.Background(), stripe); err != nil {
				rb.log.Warning().Err(err).Log("rebuild checkpoint submit failed")
			}
		})
	})
}

// reconstructStripe XORs every disk in the stripe other than diskIndex,
// mirroring Orchestrator.reconstructRead but addressed by stripe number
// directly rather than derived from an LBA.
func (rb *Rebuilder) reconstructStripe(stripe int64, cb func(data []byte, err error)) {
	disks := wire.StripeDisks(rb.vol.N)
	remaining := 0
	for _, d := range disks {
		if d == rb.diskIndex {
			continue
		}
		remaining++
	}
	results := make([][]byte, rb.vol.N)
	done := 0
	var failed error
	for _, d := range disks {
		if d == rb.diskIndex {
			continue
		}
		rb.orch.getBlock(d, stripe, func(data []byte, err error) {
			done++
			if err != nil {
				failed = err
			} else {
				results[d] = data
			}
			if done < remaining {
				return
			}
			if failed != nil {
				cb(nil, raiderr.Wrap(raiderr.ErrVolumeDead, "rebuild read failed, second disk unavailable"))
				return
			}
			var out []byte
			for _, d2 := range disks {
				if d2 == rb.diskIndex {
					continue
				}
				if out == nil {
					out = append([]byte(nil), results[d2]...)
				} else {
					out = xorInto(out, results[d2])
				}
			}
			cb(out, nil)
		})
	}
}

// checkpoint is go-microbatch's BatchProcessor: it runs on the Batcher's
// own background goroutine, recording one past the highest stripe number
// completed in this batch (the next stripe to rebuild) into the
// replacement disk's own header (generation field).
func (rb *Rebuilder) checkpoint(ctx context.Context, stripes []int64) error {
	if len(stripes) == 0 {
		return nil
	}
	last := stripes[0]
	for _, s := range stripes[1:] {
		if s > last {
			last = s
		}
	}

	slot := rb.vol.Slot(rb.diskIndex)
	header := wire.Header{
		VolumeUUID: wire.UUIDBytes(rb.vol.UUID),
		DiskUUID:   wire.UUIDBytes(slot.DiskUUID),
		DiskIndex:  uint32(rb.diskIndex),
		N:          uint32(rb.vol.N),
		BlockSize:  uint32(rb.vol.BlockSize),
		Generation: uint64(last + 1),
	}
	buf := header.Encode()
	padded := make([]byte, rb.vol.BlockSize)
	copy(padded, buf)

	resultCh := make(chan error, 1)
	rb.orch.putBlock(rb.diskIndex, -1, padded, func(err error) {
		resultCh <- err
	})

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish marks the rebuild complete and transitions the slot back online
// (spec.md §4.8 "Rebuild" completes by returning the slot to online).
func (rb *Rebuilder) finish() {
	rb.done = true
	rb.vol.SetSlotState(rb.diskIndex, SlotOnline)
	if err := rb.batcher.Close(); err != nil {
		rb.log.Warning().Err(err).Log("rebuild batcher close failed")
	}
}
