package testutil

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "vm.conf")
	WriteFile(t, path, "[dev1]\n")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if string(data) != "[dev1]\n" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteOVA(t *testing.T) {
	tests := []struct {
		name    string
		members []string
		want    []string
	}{
		{"default", nil, []string{"appliance.ovf"}},
		{"explicit", []string{"x.ovf", "x-disk1.vmdk"}, []string{"x.ovf", "x-disk1.vmdk"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "img", tt.name+".ova")
			WriteOVA(t, path, tt.members...)

			f, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			tr := tar.NewReader(f)
			var got []string
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("not a tar archive: %v", err)
				}
				got = append(got, hdr.Name)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("members = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("member %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
