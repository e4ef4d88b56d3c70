package vbox

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// parseMachineReadable reads `key=value` lines as printed by
// `showvminfo --machinereadable`. Quotes around keys and values are removed.
func parseMachineReadable(out string) map[string]string {
	kv := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		key, val, ok := splitAssignment(line)
		if !ok {
			continue
		}
		kv[key] = val
	}
	return kv
}

// splitAssignment splits on the first '=' outside a quoted key.
func splitAssignment(line string) (string, string, bool) {
	if strings.HasPrefix(line, `"`) {
		end := strings.Index(line[1:], `"`)
		if end < 0 {
			return "", "", false
		}
		key := line[1 : end+1]
		rest := line[end+2:]
		if !strings.HasPrefix(rest, "=") {
			return "", "", false
		}
		return key, unquote(rest[1:]), true
	}
	i := strings.Index(line, "=")
	if i <= 0 {
		return "", "", false
	}
	return line[:i], unquote(line[i+1:]), true
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

var listVMLine = regexp.MustCompile(`^"(.*)" \{([0-9a-fA-F-]+)\}$`)

// parseListVMs reads `list vms` output: `"name" {uuid}` per line.
func parseListVMs(out string) [][2]string {
	var vms [][2]string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := listVMLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		vms = append(vms, [2]string{m[1], m[2]})
	}
	return vms
}

// parseBlocks reads `Key:   value` records separated by blank lines, as
// printed by `list hostonlyifs`.
func parseBlocks(out string) []map[string]string {
	var (
		blocks []map[string]string
		cur    map[string]string
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if cur != nil {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if cur == nil {
			cur = make(map[string]string)
		}
		cur[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if cur != nil {
		blocks = append(blocks, cur)
	}
	return blocks
}

// parseGuestProperty reads `guestproperty get` output.
func parseGuestProperty(out string) string {
	out = strings.TrimSpace(out)
	if v, ok := strings.CutPrefix(out, "Value:"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

var (
	unitHeader = regexp.MustCompile(`^\s*(\d+):\s+(.*)$`)
	createdIf  = regexp.MustCompile(`Interface '([^']+)' was successfully created`)
)

// ignoredUnits returns the unit numbers of the USB controller and sound card
// in the dry-run output of `import -n`.
func ignoredUnits(out string, usb, audio bool) []int {
	var units []int
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := unitHeader.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		desc := m[2]
		if (usb && strings.HasPrefix(desc, "USB controller")) || (audio && strings.HasPrefix(desc, "Sound card")) {
			n, _ := strconv.Atoi(m[1])
			units = append(units, n)
		}
	}
	return units
}

// parseHostInfo reads processor and memory figures from `list hostinfo`.
func parseHostInfo(out string) (cpus, memMB int) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "Processor online count":
			cpus, _ = strconv.Atoi(v)
		case "Memory available":
			memMB, _ = strconv.Atoi(strings.TrimSuffix(v, " MByte"))
		}
	}
	return cpus, memMB
}
