package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
)

// Sink stores exported files.
type Sink interface {
	Name() string
	Put(ctx context.Context, name string, data []byte) error
}

// DirSink writes files into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates the directory if it does not exist.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Name() string { return "dir" }

func (s *DirSink) Dir() string { return s.dir }

func (s *DirSink) Put(ctx context.Context, name string, data []byte) error {
	return os.WriteFile(filepath.Join(s.dir, name), data, 0644)
}

// List returns the PNG files currently in the directory.
func (s *DirSink) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".png" {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

type FTPConfig struct {
	Addr     string // host:port
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

// FTPSink uploads files to an FTP server, one connection per file.
type FTPSink struct {
	cfg FTPConfig
}

func NewFTPSink(cfg FTPConfig) *FTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.User == "" {
		cfg.User, cfg.Password = "anonymous", "anonymous"
	}
	return &FTPSink{cfg: cfg}
}

func (s *FTPSink) Name() string { return "ftp" }

func (s *FTPSink) Put(ctx context.Context, name string, data []byte) error {
	conn, err := ftp.Dial(s.cfg.Addr, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	remote := name
	if s.cfg.Dir != "" {
		remote = path.Join(s.cfg.Dir, name)
	}
	if err := conn.Stor(remote, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ftp stor %s: %w", remote, err)
	}
	return nil
}
