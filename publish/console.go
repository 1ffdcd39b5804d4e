package publish

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleSink writes published records to a writer, one line per record.
// Default destination when no external sink is configured; handy for local
// runs and pipelines.
type ConsoleSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewConsoleSink creates a sink writing to w (nil = stdout).
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: bufio.NewWriter(w)}
}

func (c *ConsoleSink) Publish(topic, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\t%s\t%s\n", topic, key, value); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *ConsoleSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Flush()
}
