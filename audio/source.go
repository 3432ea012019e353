// Package audio provides sources of Ogg/Opus streams for voice playback.
//
// A Source hands out one byte stream and owns whatever produces it. Cleanup
// releases those resources; it is safe to call more than once and from another
// goroutine than the reader, which is how a blocked read is interrupted.
package audio

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Source is a readable Ogg/Opus bitstream with a cleanup hook.
type Source interface {
	// IO returns the Ogg stream. It returns the same reader every time.
	IO() io.Reader
	// Cleanup releases the resources held by the source. Only the first call
	// does anything; later calls return the first call's error.
	Cleanup() error
}

// cleanup runs a function at most once and remembers its error.
type cleanup struct {
	once sync.Once
	fn   func() error
	err  error
}

func (c *cleanup) run() error {
	c.once.Do(func() {
		if c.fn != nil {
			c.err = c.fn()
		}
	})
	return c.err
}

type readerSource struct {
	r io.Reader
	c cleanup
}

// Reader wraps an existing Ogg stream. If r is an io.Closer, Cleanup closes it.
func Reader(r io.Reader) Source {
	s := &readerSource{r: r}
	if closer, ok := r.(io.Closer); ok {
		s.c.fn = closer.Close
	}
	return s
}

func (s *readerSource) IO() io.Reader  { return s.r }
func (s *readerSource) Cleanup() error { return s.c.run() }

// OggFile opens an Ogg/Opus file. Cleanup closes it.
func OggFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ogg file")
	}

	return Reader(f), nil
}
