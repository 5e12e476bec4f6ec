//go:build windows

package channel

import "fmt"

// PipeChannel exists on Windows only to keep the type available at compile
// time; named-pipe transport is POSIX-only (§C2), so Open always fails and
// callers should use a socket channel instead.
type PipeChannel struct {
	base

	path string
}

// NewPipeChannel returns a channel that always fails to open on Windows.
func NewPipeChannel(path string) *PipeChannel {
	return &PipeChannel{path: path}
}

func (c *PipeChannel) Open() error {
	return fmt.Errorf("channel: named-pipe transport is not supported on windows (path %s)", c.path)
}
