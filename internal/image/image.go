// Package image manages the OVA appliances VMs are created from.
package image

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lencap/vm/internal/vmerr"
)

// Ext is the file extension of importable images.
const Ext = ".ova"

var (
	// ErrNotOVA reports a file that is not named *.ova or is not a tar archive.
	ErrNotOVA = errors.New("unsupported OVA image file")

	// ErrBadContent reports an OVA without a disk image or descriptor.
	ErrBadContent = errors.New("content of OVA image file is not valid")

	// ErrExists reports an image already present in the catalog.
	ErrExists = errors.New("image already exists")
)

// memberExts are the archive members that make an OVA usable.
var memberExts = []string{".vmdk", ".vdi", ".vhd", ".ovf"}

// Image is one catalog entry.
type Image struct {
	Name string
	Path string
	Size int64
}

// Manager handles the image catalog directory.
type Manager struct {
	dir string
}

// NewManager creates a manager for the images under dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the catalog directory.
func (m *Manager) Dir() string { return m.dir }

// Path returns where the named image lives.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name)
}

// List returns the valid OVA files in the catalog sorted by name. Files named
// *.ova that are not tar archives are skipped.
func (m *Manager) List() ([]Image, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	var images []Image
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Ext) {
			continue
		}
		path := m.Path(e.Name())
		if _, err := members(path); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, Image{Name: e.Name(), Path: path, Size: info.Size()})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// Validate checks that path is an OVA archive holding a disk image or an
// appliance descriptor.
func Validate(path string) error {
	if !strings.EqualFold(filepath.Ext(path), Ext) {
		return ErrNotOVA
	}
	names, err := members(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		for _, want := range memberExts {
			if ext == want {
				return nil
			}
		}
	}
	return ErrBadContent
}

func members(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ErrNotOVA
		}
		names = append(names, hdr.Name)
	}
	if len(names) == 0 {
		return nil, ErrNotOVA
	}
	return names, nil
}

// Import copies the OVA at src into the catalog and returns its new path.
func (m *Manager) Import(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		return "", &vmerr.ValidationError{Field: "image", Value: src, Reason: "no such file", Err: vmerr.ErrNotFound}
	}
	dst := m.Path(filepath.Base(src))
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(src), ErrExists)
	}
	if err := Validate(src); err != nil {
		return "", &vmerr.ValidationError{Field: "image", Value: src, Err: err}
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("copy image: %w", err)
	}
	return dst, nil
}

// Delete removes the named image from the catalog.
func (m *Manager) Delete(name string) error {
	path := m.Path(name)
	if _, err := os.Stat(path); err != nil {
		return &vmerr.ValidationError{Field: "image", Value: name, Reason: "no such OVA file", Err: vmerr.ErrNotFound}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
