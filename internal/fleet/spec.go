// Package fleet converges VMs toward the declarations in a vm.conf file.
package fleet

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/lencap/vm/internal/netalloc"
	"github.com/lencap/vm/internal/vmerr"
)

// ConfFile is the declaration file name looked up in the working directory.
const ConfFile = "vm.conf"

// Defaults applied to optional keys.
const (
	DefaultCPUs     = 1
	DefaultMemoryMB = 1024
)

// Copy is a file to place into the guest after it boots.
type Copy struct {
	Source      string
	Destination string
}

// Spec is the declared configuration of one VM.
type Spec struct {
	Name     string
	Image    string
	NetIP    string
	CPUs     int
	MemoryMB int
	Copy     *Copy
	Run      string
}

// ParseFile reads a declaration file.
func ParseFile(path string) ([]Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads declarations in file order. Every entry is validated before
// anything is returned, so a bad file never causes a partial run.
func Parse(r io.Reader) ([]Spec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read declarations: %w", err)
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:        true,
		AllowNonUniqueSections: true,
		// Shell commands carry ';' and '#'; only whole-line comments count.
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return nil, &vmerr.ValidationError{Field: ConfFile, Reason: err.Error()}
	}

	var specs []Spec
	seen := make(map[string]bool)
	for _, sect := range cfg.Sections() {
		if sect.Name() == ini.DefaultSection {
			if len(sect.Keys()) > 0 {
				return nil, &vmerr.ValidationError{Field: ConfFile, Reason: "keys outside of a [vm] section"}
			}
			continue
		}
		if seen[sect.Name()] {
			return nil, &vmerr.ValidationError{Field: "section", Value: sect.Name(), Reason: "VM declared more than once"}
		}
		seen[sect.Name()] = true

		s, err := parseSection(sect)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return nil, &vmerr.ValidationError{Field: ConfFile, Reason: "no VMs declared"}
	}
	return specs, nil
}

func parseSection(sect *ini.Section) (Spec, error) {
	name := sect.Name()
	s := Spec{Name: name, CPUs: DefaultCPUs, MemoryMB: DefaultMemoryMB}

	for _, key := range []string{"image", "netip"} {
		if strings.TrimSpace(sect.Key(key).String()) == "" {
			return s, &vmerr.ValidationError{Field: key, Reason: fmt.Sprintf("[%s] needs at least image and netip", name)}
		}
	}
	s.Image = unquote(sect.Key("image").String())
	s.NetIP = unquote(sect.Key("netip").String())
	if !netalloc.Validate(s.NetIP) {
		return s, &vmerr.ValidationError{Field: "netip", Value: s.NetIP, Reason: fmt.Sprintf("[%s] not a dotted-quad IPv4 address", name)}
	}
	if netalloc.Reserved(s.NetIP) {
		return s, &vmerr.ValidationError{Field: "netip", Value: s.NetIP, Err: vmerr.ErrReservedAddress}
	}

	var err error
	if s.CPUs, err = positiveInt(sect, "cpus", DefaultCPUs); err != nil {
		return s, err
	}
	if s.MemoryMB, err = positiveInt(sect, "memory", DefaultMemoryMB); err != nil {
		return s, err
	}

	if sect.HasKey("vmcopy") {
		fields := strings.Fields(unquote(sect.Key("vmcopy").String()))
		if len(fields) != 2 {
			return s, &vmerr.ValidationError{Field: "vmcopy", Value: sect.Key("vmcopy").String(), Reason: fmt.Sprintf("[%s] want \"<source> <destination>\"", name)}
		}
		s.Copy = &Copy{Source: fields[0], Destination: fields[1]}
	}
	if sect.HasKey("vmrun") {
		s.Run = unquote(sect.Key("vmrun").String())
	}
	return s, nil
}

func positiveInt(sect *ini.Section, key string, def int) (int, error) {
	if !sect.HasKey(key) {
		return def, nil
	}
	raw := unquote(sect.Key(key).String())
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &vmerr.ValidationError{Field: key, Value: raw, Reason: fmt.Sprintf("[%s] want a positive integer", sect.Name())}
	}
	return n, nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
