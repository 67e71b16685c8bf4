// Command frontend runs the Frontend server: it exposes one or more
// logical RAID-5 volumes by fanning reads/writes across Block Devices,
// discovered by UDP multicast (spec.md §1, §4.7-§4.9). Argument parsing,
// config-file loading, and daemonization are explicit out-of-scope
// "external collaborator" contracts per spec.md §1; this file implements
// the minimal version of each needed to start the role, grounded on
// original_source/frontend/__main__.py's argument list.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/raid5/frontend"
	"github.com/joeycumines/raid5/internal/iniconf"
	"github.com/joeycumines/raid5/internal/logx"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("frontend", flag.ContinueOnError)
	bindAddress := fs.String("bind-address", "0.0.0.0", "address to listen on")
	bindPort := fs.Int("bind-port", 9400, "port to listen on")
	_ = fs.String("base", ".", "base directory (unused by the Frontend, which holds no local disk files)")
	pollTimeout := fs.Duration("poll-timeout", time.Second, "reactor idle-tick interval")
	pollType := fs.String("poll-type", "epoll", "poll backend: epoll or select")
	maxBuffer := fs.Int("max-buffer", 256*1024, "max bytes buffered per connection before back-pressure")
	maxConnections := fs.Int("max-connections", 1024, "max concurrent connections")
	blockRequestTimeout := fs.Duration("block-request-timeout", 5*time.Second, "per-disk sub-request timeout (spec.md §4.8)")
	configFile := fs.String("config-file", "", "path to the INI config file (required)")
	logFile := fs.String("log-file", "", "path to write structured logs (default stderr)")
	adminPage := fs.String("admin-page", "", "path to a static page served at GET /admin (disabled if empty)")
	adminUploadDir := fs.String("admin-upload-dir", "", "directory receiving POST /admin/upload parts (disabled if empty)")
	_ = fs.Bool("daemon", false, "daemonize (unimplemented: true double-fork daemonization is out of this spec's scope; re-exec under a supervisor instead)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "frontend: --config-file is required")
		return 2
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "frontend:", err)
		return 2
	}
	cfg.BindAddress = *bindAddress
	cfg.BindPort = *bindPort
	cfg.PollType = *pollType
	cfg.PollTimeout = *pollTimeout
	cfg.MaxBuffer = *maxBuffer
	cfg.MaxConnections = *maxConnections
	cfg.BlockRequestTO = *blockRequestTimeout
	cfg.AdminPagePath = *adminPage
	cfg.AdminUploadDir = *adminUploadDir

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "frontend: open log file:", err)
			return 1
		}
		defer f.Close()
		cfg.Log = logx.New(f, logiface.LevelInformational)
	} else {
		cfg.Log = logx.New(os.Stderr, logiface.LevelInformational)
	}

	srv, err := frontend.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "frontend: startup failed:", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Close()
	}()

	if err := srv.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "frontend:", err)
		return 1
	}
	return 0
}

// loadConfig reads the `[MulticastGroup]` section plus every `[volume<k>]`
// section spec.md §6 fixes as this role's INI config-file contract.
func loadConfig(path string) (frontend.Config, error) {
	var cfg frontend.Config
	f, err := iniconf.Load(path)
	if err != nil {
		return cfg, err
	}

	if mc, ok := f.Section("MulticastGroup"); ok {
		cfg.MulticastGroup, _ = mc.Get("address")
		if p, ok := mc.Get("port"); ok {
			n, err := strconv.Atoi(p)
			if err != nil {
				return cfg, fmt.Errorf("[MulticastGroup] port: %w", err)
			}
			cfg.MulticastPort = n
		}
	}

	for _, vs := range f.VolumeSections() {
		spec, err := parseVolumeSection(vs.Section)
		if err != nil {
			return cfg, fmt.Errorf("[volume%d]: %w", vs.Index, err)
		}
		cfg.Volumes = append(cfg.Volumes, spec)
	}
	if len(cfg.Volumes) == 0 {
		return cfg, fmt.Errorf("config defines no [volume<k>] sections")
	}

	return cfg, nil
}

func parseVolumeSection(s *iniconf.Section) (frontend.VolumeSpec, error) {
	var spec frontend.VolumeSpec
	var ok bool
	if spec.UUID, ok = s.Get("volume_uuid"); !ok {
		return spec, fmt.Errorf("missing volume_uuid")
	}
	spec.LongPassword, _ = s.Get("long_password")

	blockSize, ok := s.Get("block_size")
	if !ok {
		return spec, fmt.Errorf("missing block_size")
	}
	n, err := strconv.Atoi(blockSize)
	if err != nil {
		return spec, fmt.Errorf("block_size: %w", err)
	}
	spec.BlockSize = n

	disks, ok := s.Get("disks")
	if !ok {
		return spec, fmt.Errorf("missing disks (disk+parity count N)")
	}
	n, err = strconv.Atoi(disks)
	if err != nil {
		return spec, fmt.Errorf("disks: %w", err)
	}
	spec.N = n

	total, ok := s.Get("total_stripes")
	if !ok {
		return spec, fmt.Errorf("missing total_stripes")
	}
	tn, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return spec, fmt.Errorf("total_stripes: %w", err)
	}
	spec.TotalStripes = tn

	return spec, nil
}
