package frontend

import "sync"

// SlotState is one disk slot's membership state within a Volume (spec.md
// §3 "Disk slot").
type SlotState int

const (
	SlotOffline SlotState = iota
	SlotOnline
	SlotRebuilding
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotOffline:
		return "offline"
	case SlotOnline:
		return "online"
	case SlotRebuilding:
		return "rebuilding"
	case SlotFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Slot is one volume position, bound to a disk by discovery (spec.md §3,
// §4.7). Generation mirrors the on-disk header's generation counter.
type Slot struct {
	DiskUUID   string
	Address    string
	Port       int
	State      SlotState
	Generation uint64
}

// VolumeState is the Volume's own lifecycle (spec.md §3).
type VolumeState int

const (
	VolumeUninitialized VolumeState = iota
	VolumeInitializing
	VolumeReady
	VolumeDegraded
	VolumeRebuilding
	VolumeDead
)

func (s VolumeState) String() string {
	switch s {
	case VolumeUninitialized:
		return "uninitialized"
	case VolumeInitializing:
		return "initializing"
	case VolumeReady:
		return "ready"
	case VolumeDegraded:
		return "degraded"
	case VolumeRebuilding:
		return "rebuilding"
	case VolumeDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Volume is one logical striped volume: N disk slots plus the lifecycle
// state spec.md §3 defines over them. All mutation goes through methods
// that re-derive State from slot membership, so the invariants ("ready
// iff all slots online", "degraded iff exactly one slot not online",
// "dead iff >=2 not online") can never be violated by a partial update.
type Volume struct {
	UUID         string
	LongPassword string
	BlockSize    int
	N            int

	mu          sync.Mutex
	slots       []Slot
	state       VolumeState
	staleParity map[int64]bool
}

// NewVolume constructs an uninitialized volume with n empty slots.
func NewVolume(uuid, longPassword string, n, blockSize int) *Volume {
	return &Volume{
		UUID:         uuid,
		LongPassword: longPassword,
		BlockSize:    blockSize,
		N:            n,
		slots:        make([]Slot, n),
		state:        VolumeUninitialized,
		staleParity:  map[int64]bool{},
	}
}

// Slot returns a copy of slot i's current state.
func (v *Volume) Slot(i int) Slot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.slots[i]
}

// Slots returns a copy of every slot, ordered by disk_index.
func (v *Volume) Slots() []Slot {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Slot, len(v.slots))
	copy(out, v.slots)
	return out
}

func (v *Volume) State() VolumeState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Volume) Dead() bool { return v.State() == VolumeDead }

// SetSlotState transitions slot i and re-derives the volume state.
func (v *Volume) SetSlotState(i int, s SlotState) {
	v.mu.Lock()
	v.slots[i].State = s
	v.recomputeLocked()
	v.mu.Unlock()
}

// SetSlotGeneration records a new header generation for slot i, e.g.
// after a rebuild checkpoint write (spec.md §4.8).
func (v *Volume) SetSlotGeneration(i int, gen uint64) {
	v.mu.Lock()
	v.slots[i].Generation = gen
	v.mu.Unlock()
}

// MarkParityStale records that stripe's parity no longer reflects its
// data blocks, after a degraded write that could not update parity
// (spec.md §4.8 "parity marked stale in volume state").
func (v *Volume) MarkParityStale(stripe int64) {
	v.mu.Lock()
	v.staleParity[stripe] = true
	v.mu.Unlock()
}

func (v *Volume) ParityStale(stripe int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.staleParity[stripe]
}

func (v *Volume) ClearParityStale(stripe int64) {
	v.mu.Lock()
	delete(v.staleParity, stripe)
	v.mu.Unlock()
}

// recomputeLocked re-derives v.state from current slot membership, per
// spec.md §3's invariants. Left untouched while the volume has not yet
// finished its explicit initialize/mount lifecycle transition (those are
// driven directly by BeginInitialize/FinishInitialize/Mount).
func (v *Volume) recomputeLocked() {
	if v.state == VolumeUninitialized || v.state == VolumeInitializing {
		return
	}
	offline, rebuilding := 0, 0
	for _, s := range v.slots {
		if s.State != SlotOnline {
			offline++
		}
		if s.State == SlotRebuilding {
			rebuilding++
		}
	}
	switch {
	case offline >= 2:
		v.state = VolumeDead
	case rebuilding > 0:
		v.state = VolumeRebuilding
	case offline == 1:
		v.state = VolumeDegraded
	default:
		v.state = VolumeReady
	}
}

// BeginInitialize transitions uninitialized -> initializing, the first
// step of `POST /init_volume` (spec.md §6). Returns false if the volume
// has already left the uninitialized state.
func (v *Volume) BeginInitialize() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VolumeUninitialized {
		return false
	}
	v.state = VolumeInitializing
	return true
}

// AllSlotsOnline reports whether every slot has a bound, online disk.
func (v *Volume) AllSlotsOnline() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.slots {
		if s.State != SlotOnline {
			return false
		}
	}
	return true
}

// FinishInitialize transitions initializing -> ready, once every slot's
// header has been written (spec.md §6 "200 once all slots filled and
// headers written").
func (v *Volume) FinishInitialize() {
	v.mu.Lock()
	v.state = VolumeReady
	v.mu.Unlock()
}

// AbortInitialize returns the volume to uninitialized after a failed
// init_volume attempt, so a client may retry.
func (v *Volume) AbortInitialize() {
	v.mu.Lock()
	v.state = VolumeUninitialized
	v.mu.Unlock()
}

// Mount transitions directly to a computed ready/degraded/dead state
// (`POST /mount_volume`, spec.md §6), skipping the initializing state
// since the headers already exist on disk. Mount does not read or
// validate any on-disk header: the state is derived from slot membership
// alone.
func (v *Volume) Mount() {
	v.mu.Lock()
	v.state = VolumeDegraded // placeholder so recomputeLocked doesn't short-circuit
	v.recomputeLocked()
	v.mu.Unlock()
}

// Bind attaches a discovered disk to an eligible slot (spec.md §4.7): a
// slot already bound to this disk_uuid is refreshed; otherwise the first
// slot with no disk_uuid claims it (volume still being initialized),
// falling back to a `failed` slot for rebuild-by-replacement. Returns
// false if no slot was eligible (e.g. the disk belongs to an already
// fully-bound, healthy volume).
func (v *Volume) Bind(diskUUID, address string, port int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := range v.slots {
		if v.slots[i].DiskUUID == diskUUID {
			v.slots[i].Address = address
			v.slots[i].Port = port
			if v.slots[i].State != SlotRebuilding {
				v.slots[i].State = SlotOnline
			}
			v.recomputeLocked()
			return true
		}
	}
	for i := range v.slots {
		if v.slots[i].DiskUUID == "" && v.slots[i].State == SlotOffline {
			v.slots[i] = Slot{DiskUUID: diskUUID, Address: address, Port: port, State: SlotOnline}
			v.recomputeLocked()
			return true
		}
	}
	for i := range v.slots {
		if v.slots[i].State == SlotFailed {
			v.slots[i].DiskUUID = diskUUID
			v.slots[i].Address = address
			v.slots[i].Port = port
			v.slots[i].State = SlotRebuilding
			v.slots[i].Generation = 0
			v.recomputeLocked()
			return true
		}
	}
	return false
}

// VolumeManager owns every configured Volume, keyed by volume_uuid (C10),
// and reconciles discovery results against them on each idle tick.
type VolumeManager struct {
	mu      sync.Mutex
	volumes map[string]*Volume
}

func NewVolumeManager() *VolumeManager {
	return &VolumeManager{volumes: map[string]*Volume{}}
}

func (m *VolumeManager) Register(v *Volume) {
	m.mu.Lock()
	m.volumes[v.UUID] = v
	m.mu.Unlock()
}

func (m *VolumeManager) Get(uuid string) (*Volume, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[uuid]
	return v, ok
}

// All returns every registered volume, in no particular order.
func (m *VolumeManager) All() []*Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		out = append(out, v)
	}
	return out
}

// Reconcile attempts to bind every discovered disk claiming a known
// volume_uuid against that volume's slot table (spec.md §4.7 "Volume
// binding"), called from IdentifierSocket.OnIdle.
func (m *VolumeManager) Reconcile(discovered map[string]DiscoveredDisk) {
	for _, disk := range discovered {
		v, ok := m.Get(disk.VolumeUUID)
		if !ok {
			continue
		}
		v.Bind(disk.DiskUUID, disk.Address, disk.Port)
	}
}
