// Package runlog provides the run's named log channels: small append-only
// line logs under the output directory, held as explicit values rather
// than looked up from a global registry.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// InfoChannel is the general information channel; it mirrors to stderr.
const InfoChannel = "info"

// Channel is one append-only log: one line per event.
type Channel struct {
	mu     sync.Mutex
	name   string
	w      io.Writer
	mirror io.Writer // optional second sink (stderr for info)
}

// Printf appends one formatted line to the channel.
func (c *Channel) Printf(format string, args ...any) {
	if c == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
	if c.mirror != nil {
		fmt.Fprintf(c.mirror, "[%s] %s\n", c.name, line)
	}
}

// Set holds the run's channels and owns their files.
type Set struct {
	channels map[string]*Channel
	files    []*os.File
}

// Init opens one <name>.log file per channel under outDir, creating the
// directory if needed. The info channel additionally mirrors to stderr.
func Init(outDir string, names ...string) (*Set, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	s := &Set{channels: make(map[string]*Channel)}
	for _, name := range names {
		path := filepath.Join(outDir, name+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open log %s: %w", path, err)
		}
		s.files = append(s.files, f)
		ch := &Channel{name: name, w: f}
		if name == InfoChannel {
			ch.mirror = os.Stderr
		}
		s.channels[name] = ch
	}
	return s, nil
}

// Channel returns the named channel, or nil if it was not initialized;
// Printf on a nil channel is a no-op, so optional channels need no guard.
func (s *Set) Channel(name string) *Channel {
	return s.channels[name]
}

// Close flushes and closes all channel files.
func (s *Set) Close() error {
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	return firstErr
}
