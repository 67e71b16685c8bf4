package blockdevice

import (
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/service"
)

// Config mirrors original_source/block_device/__main__.py's argument/ini
// surface, trimmed to the fields this role's server wiring needs.
type Config struct {
	BindAddress     string
	BindPort        int
	DiskName        string // backing file path
	DiskUUID        string
	VolumeUUID      string
	LongPassword    string
	BlockSize       int
	MulticastGroup  string
	MulticastPort   int
	PollType        string
	PollTimeout     time.Duration
	MaxBuffer       int
	MaxConnections  int
	LoginMaxFailure int
	LoginWindow     time.Duration
	Log             logx.Logger
}

// Server is a running Block Device instance.
type Server struct {
	cfg       Config
	app       *AppContext
	r         *reactor.Reactor
	ln        *service.ListenerSocket
	declare   *DeclarerSocket
	boundPort int
}

// New builds (but does not yet run) a Block Device server, opening its
// disk file if it exists (original_source/__main__.py checks the disk
// file exists before serving, rather than silently creating an empty
// volume member).
func New(cfg Config) (*Server, error) {
	if _, err := os.Stat(cfg.DiskName); err != nil {
		return nil, fmt.Errorf("blockdevice: disk file %q: %w", cfg.DiskName, err)
	}
	store, err := Open(cfg.DiskName, cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = logx.Discard()
	}

	app := &AppContext{
		Store:        store,
		DiskUUID:     cfg.DiskUUID,
		VolumeUUID:   cfg.VolumeUUID,
		LongPassword: cfg.LongPassword,
		Limiter:      NewLoginLimiter(cfg.LoginMaxFailure, cfg.LoginWindow),
	}

	r, err := reactor.New(reactor.Config{
		PollType:       cfg.PollType,
		PollTimeout:    cfg.PollTimeout,
		MaxConnections: cfg.MaxConnections,
		Logger:         log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	reg := service.NewRegistry()
	reg.Register("/get_block", NewGetBlockService())
	reg.Register("/set_block", NewSetBlockService())
	reg.Register("/get_disk_info", NewGetDiskInfoService())
	reg.Register("/login", NewLoginService())

	lfd, err := netutil.ListenTCP(cfg.BindAddress, cfg.BindPort)
	if err != nil {
		store.Close()
		return nil, err
	}
	boundPort := cfg.BindPort
	if boundPort == 0 {
		boundPort, _ = netutil.BoundPort(lfd)
	}

	ln := service.NewListenerSocket(lfd, reg, r, cfg.MaxBuffer, app, log)
	r.Submit(ln)

	var declare *DeclarerSocket
	if cfg.MulticastGroup != "" {
		declare, err = NewDeclarerSocket(cfg.MulticastGroup, cfg.MulticastPort, cfg.DiskUUID, boundPort, cfg.VolumeUUID, log)
		if err != nil {
			store.Close()
			return nil, err
		}
		r.Submit(declare)
	}

	return &Server{cfg: cfg, app: app, r: r, ln: ln, declare: declare, boundPort: boundPort}, nil
}

// Run blocks, driving the reactor until Close is called.
func (s *Server) Run() error { return s.r.Run() }

// Close requests an orderly shutdown.
func (s *Server) Close() { s.r.Close() }

// Addr returns the listener's bound "host:port", useful when BindPort was
// 0 and the kernel chose an ephemeral port.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.boundPort)
}
