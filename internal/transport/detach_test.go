package transport

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func readAll(t *testing.T, d *detachReader) string {
	t.Helper()
	got, err := io.ReadAll(d)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(got)
}

func isDetached(d *detachReader) bool {
	select {
	case <-d.Detached():
		return true
	default:
		return false
	}
}

func TestDetachReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		want     string
		detached bool
	}{
		{"plain input", []byte("uname -a\n"), "uname -a\n", false},
		{"single key forwarded", []byte{DetachKey, 'a', 'b'}, string([]byte{DetachKey, 'a', 'b'}), false},
		{"trailing key forwarded at EOF", []byte{'x', DetachKey}, string([]byte{'x', DetachKey}), false},
		{"double key detaches", []byte{DetachKey, DetachKey}, "", true},
		{"input before sequence kept", []byte{'l', 's', DetachKey, DetachKey, 'z'}, "ls", true},
		{"separated keys forwarded", []byte{DetachKey, 'q', DetachKey}, string([]byte{DetachKey, 'q', DetachKey}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetachReader(bytes.NewReader(tt.input))
			if got := readAll(t, d); got != tt.want {
				t.Errorf("read %q, want %q", got, tt.want)
			}
			if isDetached(d) != tt.detached {
				t.Errorf("detached = %v, want %v", isDetached(d), tt.detached)
			}
		})
	}
}

func TestDetachReaderSmallBuffer(t *testing.T) {
	d := newDetachReader(bytes.NewReader([]byte{DetachKey, 'a'}))
	buf := make([]byte, 1)

	var got []byte
	for {
		n, err := d.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if want := []byte{DetachKey, 'a'}; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDetachReaderWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	d := newDetachReader(bytes.NewReader([]byte{DetachKey, DetachKey, 'x'}))
	d.now = func() time.Time {
		clock = clock.Add(detachWindow + time.Millisecond)
		return clock
	}

	if got, want := readAll(t, d), string([]byte{DetachKey, DetachKey, 'x'}); got != want {
		t.Errorf("read %q, want %q", got, want)
	}
	if isDetached(d) {
		t.Error("slow presses detached")
	}
}

func TestDetachReaderStaysDetached(t *testing.T) {
	d := newDetachReader(bytes.NewReader([]byte{DetachKey, DetachKey, 'a', 'b'}))
	buf := make([]byte, 8)
	for i := 0; i < 2; i++ {
		if n, err := d.Read(buf); n != 0 || err != io.EOF {
			t.Errorf("read %d = (%d, %v), want (0, EOF)", i, n, err)
		}
	}
}
