package transport

import (
	"io"
	"sync"
	"time"
)

const (
	// DetachKey is Ctrl+]. Pressing it twice within detachWindow leaves an
	// interactive shell without touching the guest.
	DetachKey = 0x1D

	detachPresses = 2
	detachWindow  = 500 * time.Millisecond
)

// detachReader forwards keyboard input to a remote shell and watches it for
// the detach sequence. A lone DetachKey is held back until the next byte
// shows it is not part of the sequence, then forwarded.
type detachReader struct {
	r   io.Reader
	now func() time.Time

	pending int
	last    time.Time
	buf     []byte
	err     error

	once     sync.Once
	detached chan struct{}
}

func newDetachReader(r io.Reader) *detachReader {
	return &detachReader{r: r, now: time.Now, detached: make(chan struct{})}
}

// Detached is closed once the sequence has been typed.
func (d *detachReader) Detached() <-chan struct{} {
	return d.detached
}

func (d *detachReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(d.buf) == 0 {
		select {
		case <-d.detached:
			return 0, io.EOF
		default:
		}
		if d.err != nil {
			return 0, d.err
		}
		chunk := make([]byte, len(p))
		n, err := d.r.Read(chunk)
		d.scan(chunk[:n])
		if err != nil {
			d.flush()
			d.err = err
		}
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}

func (d *detachReader) scan(b []byte) {
	for _, c := range b {
		if c != DetachKey {
			d.flush()
			d.buf = append(d.buf, c)
			continue
		}
		t := d.now()
		if d.pending > 0 && t.Sub(d.last) > detachWindow {
			d.flush()
		}
		d.pending++
		d.last = t
		if d.pending == detachPresses {
			d.pending = 0
			d.once.Do(func() { close(d.detached) })
			return
		}
	}
}

func (d *detachReader) flush() {
	for ; d.pending > 0; d.pending-- {
		d.buf = append(d.buf, DetachKey)
	}
}
