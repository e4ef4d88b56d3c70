// Package testutil provides common test helpers for vm tests.
package testutil

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lencap/vm/pkg/hypervisor"
)

// FastLock is a lock policy short enough for tests against the fake cloud.
var FastLock = hypervisor.LockPolicy{Grace: 20 * time.Millisecond, Interval: time.Millisecond}

// WriteFile writes content at path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// WriteOVA creates a tar archive at path holding one small file per member
// name. With no members it holds a single appliance descriptor.
func WriteOVA(t *testing.T, path string, members ...string) {
	t.Helper()
	if len(members) == 0 {
		members = []string{"appliance.ovf"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create OVA at %s: %v", path, err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	body := []byte("<Envelope/>")
	for _, name := range members {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}); err != nil {
			t.Fatalf("failed to write tar header %s: %v", name, err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatalf("failed to write tar member %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to finish OVA %s: %v", path, err)
	}
}
