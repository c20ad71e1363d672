package fifo

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mverteuil/birdcore/internal/errors"
	"github.com/mverteuil/birdcore/internal/logging"
)

// maxFrameBytes bounds a single frame so a corrupt length prefix can never
// make a reader try to allocate an unreasonable buffer.
const maxFrameBytes = 64 << 20

var log = logging.ForService("fifo")

// Writer is the producer side of a FIFO frame transport. Opening blocks
// until a reader has the pipe open for reading, exactly like the underlying
// open(2) call; OpenWriter honours ctx so callers (e.g. a daemon shutting
// down before the other side ever connects) are not stuck forever.
type Writer struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// OpenWriter opens path for writing, creating the FIFO first if it does not
// already exist.
func OpenWriter(ctx context.Context, path string) (*Writer, error) {
	if !Exists(path) {
		if err := Create(path); err != nil {
			return nil, err
		}
	}

	type result struct {
		f   *os.File
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_WRONLY, os.ModeNamedPipe)
		done <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, errors.New(r.err).Component("fifo").Category(errors.CategorySystem).Build()
		}
		return &Writer{path: path, f: r.f}, nil
	}
}

// WriteFrame writes a length-prefixed frame. A broken pipe (the reader
// process died or closed its end) surfaces as a plain error; callers are
// expected to reopen via OpenWriter to resume the stream once a new reader
// attaches.
func (w *Writer) WriteFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.f.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header to %s: %w", w.path, err)
	}
	if _, err := w.f.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload to %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying pipe descriptor. The FIFO special file itself
// remains on disk; callers own its lifecycle via Remove.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Reader is the consumer side of a FIFO frame transport.
type Reader struct {
	path string
	f    *os.File
	buf  *bufio.Reader
}

// OpenReader opens path for reading, creating the FIFO first if needed.
// Like OpenWriter, the open blocks until a writer attaches and respects ctx.
func OpenReader(ctx context.Context, path string) (*Reader, error) {
	if !Exists(path) {
		if err := Create(path); err != nil {
			return nil, err
		}
	}

	type result struct {
		f   *os.File
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, os.ModeNamedPipe)
		done <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, errors.New(r.err).Component("fifo").Category(errors.CategorySystem).Build()
		}
		return &Reader{path: path, f: r.f, buf: bufio.NewReaderSize(r.f, 64<<10)}, nil
	}
}

// ReadFrame blocks until a full frame is available, returning io.EOF once
// the writer closes its end and no more frames remain buffered.
func (r *Reader) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r.buf, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame length %d exceeds max %d on %s", n, maxFrameBytes, r.path)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.buf, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload from %s: %w", r.path, err)
	}
	return payload, nil
}

// Close closes the underlying pipe descriptor.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Pump repeatedly reopens path and forwards frames to handle until ctx is
// cancelled or handle returns a non-nil error. This is the shape the
// analysis daemon uses to stay attached to the capture daemon's FIFO across
// capture-daemon restarts: each EOF (writer closed) triggers a fresh
// OpenReader rather than treating the pipe as permanently dead.
func Pump(ctx context.Context, path string, handle func([]byte) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r, err := OpenReader(ctx, path)
		if err != nil {
			return err
		}
		log.Info("fifo reader attached", "path", path)

		readErr := pumpUntilEOF(r, handle)
		_ = r.Close()
		if readErr != nil {
			return readErr
		}
		log.Warn("fifo writer disconnected, reattaching", "path", path)
	}
}

func pumpUntilEOF(r *Reader, handle func([]byte) error) error {
	for {
		frame, err := r.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handle(frame); err != nil {
			return err
		}
	}
}
