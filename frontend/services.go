package frontend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/internal/raiderr"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/service"
	"github.com/joeycumines/raid5/wire"
)

// AppContext is the Frontend's shared application state, reached by
// every Service through Entry.App, mirroring
// _examples/original_source/frontend/__main__.py's application_context
// and blockdevice.AppContext's shape on the other server role.
type AppContext struct {
	Reactor       *reactor.Reactor
	Volumes       *VolumeManager
	Orchestrators map[string]*Orchestrator // keyed by volume_uuid
	BlockSize     int
	Log           logx.Logger
}

func (a *AppContext) orchestratorFor(volumeUUID string) (*Orchestrator, *Volume, error) {
	vol, ok := a.Volumes.Get(volumeUUID)
	if !ok {
		return nil, nil, raiderr.Wrap(raiderr.ErrServiceNotFound, "unknown volume")
	}
	orch, ok := a.Orchestrators[volumeUUID]
	if !ok {
		return nil, nil, raiderr.Wrap(raiderr.ErrInternal, "volume has no orchestrator")
	}
	return orch, vol, nil
}

// ReadBlockService implements `GET /read_block?volume=<uuid>&block=<n>`
// (spec.md §6), parking via the BeforeResponseStatus "return false to
// retry" convention while the async Orchestrator.Read is in flight.
type ReadBlockService struct {
	service.BaseService
	started bool
	done    bool
	data    []byte
	err     error
}

func NewReadBlockService() service.Factory {
	return func(*service.Entry) service.Service { return &ReadBlockService{} }
}

func (s *ReadBlockService) WantedArgs() []string { return []string{"volume", "block"} }

func (s *ReadBlockService) BeforeResponseStatus(e *service.Entry) bool {
	if s.done {
		return true
	}
	if !s.started {
		s.started = true
		app := e.App.(*AppContext)
		volumeUUID, _ := e.Arg("volume")
		blockArg, _ := e.Arg("block")
		lba, parseErr := strconv.ParseInt(blockArg, 10, 64)
		if parseErr != nil {
			s.done = true
			e.SetStatus(400, "block must be an integer")
			return true
		}
		orch, _, lookupErr := app.orchestratorFor(volumeUUID)
		if lookupErr != nil {
			s.done = true
			e.SetStatus(raiderr.StatusFor(lookupErr), raiderr.ReasonFor(raiderr.StatusFor(lookupErr)))
			return true
		}
		orch.Read(lba, func(data []byte, err error) {
			s.data, s.err = data, err
			s.done = true
		})
	}
	if !s.done {
		return false
	}
	if s.err != nil {
		status := raiderr.StatusFor(s.err)
		e.SetStatus(status, raiderr.ReasonFor(status))
		return true
	}
	e.SetStatus(200, "")
	return true
}

func (s *ReadBlockService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = strconv.Itoa(len(s.data))
	return true
}

func (s *ReadBlockService) BeforeResponseContent(e *service.Entry, _ int) bool {
	if s.err == nil {
		e.ResponseBody = append(e.ResponseBody, s.data...)
	}
	return true
}

// WriteBlockService implements `POST /write_block?volume=<uuid>&block=<n>`
// (spec.md §6), requesting the full body before dispatching the
// Orchestrator write.
type WriteBlockService struct {
	service.BaseService
	body    []byte
	started bool
	done    bool
	err     error
}

func NewWriteBlockService() service.Factory {
	return func(*service.Entry) service.Service { return &WriteBlockService{} }
}

func (s *WriteBlockService) WantedArgs() []string    { return []string{"volume", "block"} }
func (s *WriteBlockService) WantedHeaders() []string { return []string{"Content-Length"} }

func (s *WriteBlockService) HandleContent(e *service.Entry, chunk []byte) {
	s.body = append(s.body, chunk...)
}

func (s *WriteBlockService) BeforeResponseStatus(e *service.Entry) bool {
	if s.done {
		return true
	}
	if !s.started {
		s.started = true
		app := e.App.(*AppContext)
		volumeUUID, _ := e.Arg("volume")
		blockArg, _ := e.Arg("block")
		lba, parseErr := strconv.ParseInt(blockArg, 10, 64)
		if parseErr != nil {
			s.done = true
			e.SetStatus(400, "block must be an integer")
			return true
		}
		if len(s.body) != app.BlockSize {
			s.done = true
			e.SetStatus(400, "body must be exactly block_size bytes")
			return true
		}
		orch, _, lookupErr := app.orchestratorFor(volumeUUID)
		if lookupErr != nil {
			s.done = true
			e.SetStatus(raiderr.StatusFor(lookupErr), raiderr.ReasonFor(raiderr.StatusFor(lookupErr)))
			return true
		}
		orch.Write(lba, s.body, func(err error) {
			s.err = err
			s.done = true
		})
	}
	if !s.done {
		return false
	}
	if s.err != nil {
		status := raiderr.StatusFor(s.err)
		e.SetStatus(status, raiderr.ReasonFor(status))
		return true
	}
	e.SetStatus(200, "")
	return true
}

func (s *WriteBlockService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = "0"
	return true
}

// InitVolumeService implements `POST /init_volume?volume=<uuid>` (spec.md
// §6): transitions the named volume to initializing, waits for every
// slot to be bound by discovery, writes each disk's header, then marks
// the volume ready.
type InitVolumeService struct {
	service.BaseService
	started       bool
	headersFired  bool
	headersDone   bool
	headersOK     bool
	headersRemain int
	done          bool
}

func NewInitVolumeService() service.Factory {
	return func(*service.Entry) service.Service { return &InitVolumeService{} }
}

func (s *InitVolumeService) WantedArgs() []string { return []string{"volume"} }

// BeforeResponseStatus is called repeatedly (returning false to retry,
// per ServiceSocket's idle-tick "advance" convention) until the volume's
// slots are all bound by discovery and every header has been durably
// written — both of which are asynchronous, so this method must never
// block the Reactor thread it runs on.
func (s *InitVolumeService) BeforeResponseStatus(e *service.Entry) bool {
	if s.done {
		return true
	}
	app := e.App.(*AppContext)
	volumeUUID, _ := e.Arg("volume")
	vol, ok := app.Volumes.Get(volumeUUID)
	if !ok {
		s.done = true
		e.SetStatus(404, raiderr.ReasonFor(404))
		return true
	}

	if !s.started {
		s.started = true
		if !vol.BeginInitialize() && vol.State() != VolumeInitializing {
			s.done = true
			e.SetStatus(400, "volume already initialized")
			return true
		}
	}

	if !vol.AllSlotsOnline() {
		return false
	}

	if !s.headersFired {
		orch, ok := app.Orchestrators[volumeUUID]
		if !ok {
			s.done = true
			e.SetStatus(500, raiderr.ReasonFor(500))
			return true
		}
		s.headersFired = true
		s.headersOK = true
		s.headersRemain = vol.N
		s.fireHeaderWrites(orch, vol)
	}

	if !s.headersDone {
		return false
	}

	if !s.headersOK {
		vol.AbortInitialize()
		s.done = true
		e.SetStatus(500, "header write failed")
		return true
	}
	vol.FinishInitialize()
	s.done = true
	e.SetStatus(200, "")
	return true
}

// fireHeaderWrites issues one header PUT per slot without waiting: each
// callback fires later, on the Reactor thread, as its BlockDeviceClient
// completes; s.headersDone only flips once every slot has responded.
func (s *InitVolumeService) fireHeaderWrites(orch *Orchestrator, vol *Volume) {
	for i := 0; i < vol.N; i++ {
		i := i
		slot := vol.Slot(i)
		h := wire.Header{
			VolumeUUID: wire.UUIDBytes(vol.UUID),
			DiskUUID:   wire.UUIDBytes(slot.DiskUUID),
			DiskIndex:  uint32(i),
			N:          uint32(vol.N),
			BlockSize:  uint32(vol.BlockSize),
			Generation: 0,
		}
		buf := h.Encode()
		padded := make([]byte, vol.BlockSize)
		copy(padded, buf)
		orch.putBlock(i, -1, padded, func(err error) {
			if err != nil {
				s.headersOK = false
			} else {
				vol.SetSlotGeneration(i, 0)
			}
			s.headersRemain--
			if s.headersRemain == 0 {
				s.headersDone = true
			}
		})
	}
}

func (s *InitVolumeService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = "0"
	return true
}

// MountVolumeService implements `POST /mount_volume?volume=<uuid>` (spec.md
// §6): the bring-up path for a volume whose disks already carry valid
// on-disk headers from a prior `init_volume` (as opposed to `init_volume`
// itself, which also writes fresh headers). It waits for discovery to
// rebind every slot, then derives the volume's ready/degraded/dead state
// directly via Volume.Mount, without writing anything to disk.
type MountVolumeService struct {
	service.BaseService
	started bool
	done    bool
}

func NewMountVolumeService() service.Factory {
	return func(*service.Entry) service.Service { return &MountVolumeService{} }
}

func (s *MountVolumeService) WantedArgs() []string { return []string{"volume"} }

// BeforeResponseStatus is called repeatedly (returning false to retry)
// until every slot has been bound by discovery, mirroring
// InitVolumeService's async "wait for slots" convention.
func (s *MountVolumeService) BeforeResponseStatus(e *service.Entry) bool {
	if s.done {
		return true
	}
	app := e.App.(*AppContext)
	volumeUUID, _ := e.Arg("volume")
	vol, ok := app.Volumes.Get(volumeUUID)
	if !ok {
		s.done = true
		e.SetStatus(404, raiderr.ReasonFor(404))
		return true
	}

	if !s.started {
		s.started = true
		if vol.State() != VolumeUninitialized {
			s.done = true
			e.SetStatus(400, "volume already mounted")
			return true
		}
	}

	if !vol.AllSlotsOnline() {
		return false
	}

	vol.Mount()
	s.done = true
	e.SetStatus(200, "")
	return true
}

func (s *MountVolumeService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = "0"
	return true
}

// VolumesService implements `GET /volumes` (spec.md §6): a plain-text
// listing of every volume's state and slot table, standing in for the
// source's HTML/JSON status page without pulling in a templating engine
// this repo otherwise has no use for.
type VolumesService struct {
	service.BaseService
	body []byte
	sent bool
}

func NewVolumesService() service.Factory {
	return func(*service.Entry) service.Service { return &VolumesService{} }
}

func (s *VolumesService) BeforeResponseStatus(e *service.Entry) bool {
	app := e.App.(*AppContext)
	var b strings.Builder
	for _, vol := range app.Volumes.All() {
		fmt.Fprintf(&b, "volume %s: %s\n", vol.UUID, vol.State())
		for i, slot := range vol.Slots() {
			fmt.Fprintf(&b, "  slot %d: disk=%s addr=%s:%d state=%s generation=%d\n",
				i, slot.DiskUUID, slot.Address, slot.Port, slot.State, slot.Generation)
		}
	}
	s.body = []byte(b.String())
	e.SetStatus(200, "")
	return true
}

func (s *VolumesService) BeforeResponseHeaders(e *service.Entry) bool {
	e.ResponseHeaders["Content-Length"] = strconv.Itoa(len(s.body))
	e.ResponseHeaders["Content-Type"] = "text/plain"
	return true
}

func (s *VolumesService) BeforeResponseContent(e *service.Entry, _ int) bool {
	if s.sent {
		return true
	}
	e.ResponseBody = append(e.ResponseBody, s.body...)
	s.sent = true
	return true
}
