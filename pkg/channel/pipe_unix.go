//go:build unix

package channel

import (
	"fmt"
	"os"
	"os/exec"
)

// PipeChannel is a POSIX named-pipe (FIFO) channel. The supervisor creates
// the FIFO if absent, opens it for reading and writing, and removes it on
// Close.
type PipeChannel struct {
	base

	path string
	file *os.File
}

// NewPipeChannel returns a channel backed by the FIFO at path.
func NewPipeChannel(path string) *PipeChannel {
	return &PipeChannel{path: path}
}

func (c *PipeChannel) Open() error {
	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		if err := exec.Command("mkfifo", c.path).Run(); err != nil {
			return fmt.Errorf("channel: mkfifo %s: %w", c.path, err)
		}
	}
	f, err := os.OpenFile(c.path, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("channel: open fifo %s: %w", c.path, err)
	}
	c.file = f
	c.setStream(f)
	return nil
}

func (c *PipeChannel) Close() error {
	err := c.base.Close()
	os.Remove(c.path)
	return err
}
