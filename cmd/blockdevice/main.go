// Command blockdevice runs one Block Device server: it serves a single
// disk slice of a RAID-5 volume over the HTTP-framed service protocol and
// announces itself by UDP multicast (spec.md §4.6-§4.7). Argument
// parsing, config-file loading, and daemonization are explicit
// out-of-scope "external collaborator" contracts per spec.md §1; this
// file implements the minimal version of each needed to start the role,
// grounded on original_source/block_device/__main__.py's argument list.
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

	"github.com/joeycumines/raid5/blockdevice"
	"github.com/joeycumines/raid5/internal/iniconf"
	"github.com/joeycumines/raid5/internal/logx"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("blockdevice", flag.ContinueOnError)
	bindAddress := fs.String("bind-address", "0.0.0.0", "address to listen on")
	bindPort := fs.Int("bind-port", 9500, "port to listen on")
	base := fs.String("base", ".", "base directory for relative disk paths")
	pollTimeout := fs.Duration("poll-timeout", time.Second, "reactor idle-tick interval")
	pollType := fs.String("poll-type", "epoll", "poll backend: epoll or select")
	maxBuffer := fs.Int("max-buffer", 256*1024, "max bytes buffered per connection before back-pressure")
	maxConnections := fs.Int("max-connections", 1024, "max concurrent connections")
	configFile := fs.String("config-file", "", "path to the INI config file (required)")
	logFile := fs.String("log-file", "", "path to write structured logs (default stderr)")
	_ = fs.Bool("daemon", false, "daemonize (unimplemented: true double-fork daemonization is out of this spec's scope; re-exec under a supervisor instead)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "blockdevice: --config-file is required")
		return 2
	}

	cfg, err := loadConfig(*configFile, *base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "blockdevice:", err)
		return 2
	}
	cfg.BindAddress = *bindAddress
	cfg.BindPort = *bindPort
	cfg.PollType = *pollType
	cfg.PollTimeout = *pollTimeout
	cfg.MaxBuffer = *maxBuffer
	cfg.MaxConnections = *maxConnections

	w := os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "blockdevice: open log file:", err)
			return 1
		}
		defer f.Close()
		cfg.Log = logx.New(f, logiface.LevelInformational)
	} else {
		cfg.Log = logx.New(w, logiface.LevelInformational)
	}

	srv, err := blockdevice.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "blockdevice: startup failed:", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Close()
	}()

	if err := srv.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "blockdevice:", err)
		return 1
	}
	return 0
}

// loadConfig reads the `[Server]`/`[MulticastGroup]`/`[Authentication]`
// sections spec.md §6 fixes as this role's INI config-file contract.
func loadConfig(path, base string) (blockdevice.Config, error) {
	var cfg blockdevice.Config
	f, err := iniconf.Load(path)
	if err != nil {
		return cfg, err
	}

	srv, ok := f.Section("Server")
	if !ok {
		return cfg, fmt.Errorf("missing [Server] section")
	}
	diskName, ok := srv.Get("disk_name")
	if !ok {
		return cfg, fmt.Errorf("[Server] missing disk_name")
	}
	if !filepathAbs(diskName) {
		diskName = base + string(os.PathSeparator) + diskName
	}
	cfg.DiskName = diskName
	cfg.DiskUUID, _ = srv.Get("disk_uuid")
	cfg.VolumeUUID, _ = srv.Get("volume_uuid")
	cfg.BlockSize = 4096
	if bs, ok := srv.Get("block_size"); ok {
		n, err := strconv.Atoi(bs)
		if err != nil {
			return cfg, fmt.Errorf("[Server] block_size: %w", err)
		}
		cfg.BlockSize = n
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

	if auth, ok := f.Section("Authentication"); ok {
		cfg.LongPassword, _ = auth.Get("long_password")
	}

	cfg.LoginMaxFailure = 5
	cfg.LoginWindow = time.Minute

	return cfg, nil
}

func filepathAbs(p string) bool {
	return len(p) > 0 && p[0] == '/'
}
