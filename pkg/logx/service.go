package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./pubcontrol.log"

// stderr is where console output goes; tests may swap it.
var stderr io.Writer = os.Stderr

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Remote  RemoteConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the root zerolog logger and swaps it on Apply. Loggers handed
// out by New keep working across swaps.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	remote *remote
}

// New applies cfg and returns the service with its root Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{remote: newRemote()}
	boot := newRoot(newConsoleWriter(stderr), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// SetRemoteSink sets the sink used while Remote.Enabled is true. nil clears it.
func (s *Service) SetRemoteSink(sink RemoteSink) { s.remote.setSink(sink) }

// Dropped counts remote entries lost to a full queue.
func (s *Service) Dropped() uint64 { return s.remote.dropped.Load() }

// Apply rebuilds the outputs from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, newConsoleWriter(stderr))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	s.remote.configure(cfg.Remote)
	if cfg.Remote.Enabled {
		s.remote.start()
		outs = append(outs, s.remote)
	}
	if len(outs) == 0 {
		outs = append(outs, newConsoleWriter(stderr))
	}

	zl := newRoot(zerolog.MultiLevelWriter(outs...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)
}

// Close stops the remote shipper and closes the log file. Loggers keep
// working afterwards but file output is lost.
func (s *Service) Close() error {
	s.remote.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
