package image

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lencap/vm/internal/testutil"
	"github.com/lencap/vm/internal/vmerr"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cos72.ova")
	testutil.WriteOVA(t, good, "cos72.ovf", "cos72-disk1.vmdk")
	noDisk := filepath.Join(dir, "empty.ova")
	testutil.WriteOVA(t, noDisk, "README")
	notTar := filepath.Join(dir, "fake.ova")
	os.WriteFile(notTar, []byte("definitely not a tar archive, just text"), 0644)
	wrongExt := filepath.Join(dir, "cos72.tar")
	testutil.WriteOVA(t, wrongExt, "cos72.ovf")

	tests := []struct {
		name string
		path string
		want error
	}{
		{"valid", good, nil},
		{"no disk", noDisk, ErrBadContent},
		{"not tar", notTar, ErrNotOVA},
		{"wrong extension", wrongExt, ErrNotOVA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.path); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestListSkipsNonArchives(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteOVA(t, filepath.Join(dir, "b.ova"), "b.vmdk")
	testutil.WriteOVA(t, filepath.Join(dir, "a.OVA"), "a.ovf")
	os.WriteFile(filepath.Join(dir, "bogus.ova"), []byte("plain text"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	images, err := NewManager(dir).List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(images) != 2 || images[0].Name != "a.OVA" || images[1].Name != "b.ova" {
		t.Fatalf("List() = %+v", images)
	}
	if images[1].Size == 0 || images[1].Path != filepath.Join(dir, "b.ova") {
		t.Errorf("image = %+v", images[1])
	}
}

func TestListMissingDir(t *testing.T) {
	images, err := NewManager(filepath.Join(t.TempDir(), "nope")).List()
	if err != nil || images != nil {
		t.Errorf("List() = %v, %v", images, err)
	}
}

func TestImport(t *testing.T) {
	src := filepath.Join(t.TempDir(), "cos72.ova")
	testutil.WriteOVA(t, src, "cos72.ovf", "cos72-disk1.vmdk")
	m := NewManager(filepath.Join(t.TempDir(), "catalog"))

	dst, err := m.Import(src)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if dst != m.Path("cos72.ova") {
		t.Errorf("dst = %q", dst)
	}
	if err := Validate(dst); err != nil {
		t.Errorf("imported copy invalid: %v", err)
	}

	if _, err := m.Import(src); !errors.Is(err, ErrExists) {
		t.Errorf("second Import() = %v, want ErrExists", err)
	}
}

func TestImportRejects(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.ova")
	testutil.WriteOVA(t, bad, "README")
	m := NewManager(t.TempDir())

	_, err := m.Import(bad)
	var verr *vmerr.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrBadContent) {
		t.Errorf("Import(bad) = %v", err)
	}
	if _, err := os.Stat(m.Path("bad.ova")); !os.IsNotExist(err) {
		t.Error("rejected image was copied")
	}

	if _, err := m.Import(filepath.Join(dir, "missing.ova")); !errors.Is(err, vmerr.ErrNotFound) {
		t.Errorf("Import(missing) = %v", err)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteOVA(t, filepath.Join(dir, "x.ova"), "x.vmdk")
	m := NewManager(dir)

	if err := m.Delete("x.ova"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete("x.ova"); !errors.Is(err, vmerr.ErrNotFound) {
		t.Errorf("second Delete() = %v", err)
	}
}
