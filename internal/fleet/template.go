package fleet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteTemplate when the file is already there
// and overwrite was not requested.
var ErrExists = errors.New("fleet: declaration file already exists")

const template = `# vm.conf
# One [section] per VM; the section name is the VM name.
# Mandatory: image (an OVA in the image directory) and netip.
# Optional: cpus (default 1), memory in MB (default 1024),
#           vmcopy = "<local file> <guest path>", vmrun = <guest command>.
# Run 'vm prov' from this directory to create and start the VMs.

#[dev1]
#image = cos72.ova
#netip = 10.11.12.2
#cpus = 1
#memory = 1024
#vmcopy = "./local-host-file/puppet-bootstrap.sh /vmboot/puppet-bootstrap.sh"
#vmrun = /vmboot/puppet-bootstrap.sh

#[dev2]
#image = cos72.ova
#netip = 10.11.12.3
`

// Template returns the commented declaration file written by 'prov init'.
func Template() string { return template }

// WriteTemplate writes the template to dir/vm.conf.
func WriteTemplate(dir string, overwrite bool) (string, error) {
	path := filepath.Join(dir, ConfFile)
	if _, err := os.Stat(path); err == nil && !overwrite {
		return path, ErrExists
	}
	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return path, fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// CheckWorkDir refuses to provision from the user's home directory.
func CheckWorkDir(dir, home string) error {
	if home == "" {
		return nil
	}
	a, errA := filepath.Abs(dir)
	b, errB := filepath.Abs(home)
	if errA != nil || errB != nil {
		return nil
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return fmt.Errorf("running prov from your home directory is not allowed; cd into a project directory")
	}
	return nil
}
