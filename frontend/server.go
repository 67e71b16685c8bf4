package frontend

import (
	"time"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/service"
)

// VolumeSpec is one `[volume<k>]` config section's static definition
// (spec.md §6): the UUID to serve it under, its shared secret, block
// size, disk count, and the total number of stripes it holds (fixed for
// the volume's lifetime, per spec.md §1 "non-goals: dynamic volume
// resizing").
type VolumeSpec struct {
	UUID         string
	LongPassword string
	BlockSize    int
	N            int
	TotalStripes int64
}

// Config mirrors original_source/frontend/__main__.py's argument/ini
// surface, trimmed to the fields this role's server wiring needs.
type Config struct {
	BindAddress    string
	BindPort       int
	MulticastGroup string
	MulticastPort  int
	PollType       string
	PollTimeout    time.Duration
	MaxBuffer      int
	MaxConnections int
	BlockRequestTO time.Duration
	Volumes        []VolumeSpec
	Log            logx.Logger

	// AdminPagePath, if set, is served at GET /admin: a static page from
	// which an operator can upload a replacement disk image (spec.md
	// §4.6 admin upload page). AdminUploadDir, if set, is where uploaded
	// parts from POST /admin/upload land.
	AdminPagePath  string
	AdminUploadDir string
}

// Server is a running Frontend instance.
type Server struct {
	cfg   Config
	app   *AppContext
	r     *reactor.Reactor
	ln    *service.ListenerSocket
	ident *IdentifierSocket
}

// New builds (but does not yet run) a Frontend server: one Volume and
// Orchestrator per configured VolumeSpec, a ListenerSocket exposing the
// RAID services, and an IdentifierSocket feeding discovered disks into
// the VolumeManager (spec.md §4.7).
func New(cfg Config) (*Server, error) {
	log := cfg.Log
	if log == nil {
		log = logx.Discard()
	}

	r, err := reactor.New(reactor.Config{
		PollType:       cfg.PollType,
		PollTimeout:    cfg.PollTimeout,
		MaxConnections: cfg.MaxConnections,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	vm := NewVolumeManager()
	orchestrators := map[string]*Orchestrator{}
	type volOrch struct {
		vol          *Volume
		orch         *Orchestrator
		totalStripes int64
	}
	var volOrchs []volOrch
	blockSize := 0
	for _, vs := range cfg.Volumes {
		vol := NewVolume(vs.UUID, vs.LongPassword, vs.N, vs.BlockSize)
		vm.Register(vol)
		orch := NewOrchestrator(r, vol, cfg.BlockRequestTO, log)
		orchestrators[vs.UUID] = orch
		volOrchs = append(volOrchs, volOrch{vol: vol, orch: orch, totalStripes: vs.TotalStripes})
		blockSize = vs.BlockSize
	}

	app := &AppContext{
		Reactor:       r,
		Volumes:       vm,
		Orchestrators: orchestrators,
		BlockSize:     blockSize,
		Log:           log,
	}

	reg := service.NewRegistry()
	reg.Register("/read_block", NewReadBlockService())
	reg.Register("/write_block", NewWriteBlockService())
	reg.Register("/init_volume", NewInitVolumeService())
	reg.Register("/mount_volume", NewMountVolumeService())
	reg.Register("/volumes", NewVolumesService())
	if cfg.AdminPagePath != "" {
		reg.Register("/admin", service.NewGetFileService(cfg.AdminPagePath))
	}
	if cfg.AdminUploadDir != "" {
		reg.Register("/admin/upload", service.NewFileFormService(cfg.AdminUploadDir))
	}

	lfd, err := netutil.ListenTCP(cfg.BindAddress, cfg.BindPort)
	if err != nil {
		return nil, err
	}
	ln := service.NewListenerSocket(lfd, reg, r, cfg.MaxBuffer, app, log)
	r.Submit(ln)

	var ident *IdentifierSocket
	if cfg.MulticastGroup != "" {
		dir := NewDirectory()
		ident, err = NewIdentifierSocket(cfg.MulticastGroup, cfg.MulticastPort, dir, vm, log)
		if err != nil {
			return nil, err
		}
		for _, vo := range volOrchs {
			ident.TrackRebuild(vo.vol, vo.orch, vo.totalStripes)
		}
		r.Submit(ident)
	}

	return &Server{cfg: cfg, app: app, r: r, ln: ln, ident: ident}, nil
}

// Run blocks, driving the reactor until Close is called.
func (s *Server) Run() error { return s.r.Run() }

// Close requests an orderly shutdown.
func (s *Server) Close() { s.r.Close() }
