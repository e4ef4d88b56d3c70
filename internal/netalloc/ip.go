// Package netalloc keeps every managed VM on a unique, valid IPv4 address
// inside a host-only /24 segment, creating segments on demand.
package netalloc

import (
	"strconv"
	"strings"
)

const (
	// DefaultAddress is handed to new VMs when nothing better is known.
	DefaultAddress = "10.11.12.2"

	// Netmask is the mask of every managed segment.
	Netmask = "255.255.255.0"

	firstHost = 2
	lastHost  = 254
)

// Validate reports whether ip is exactly four dot-separated decimal integers
// in [0,255].
func Validate(ip string) bool {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	for _, o := range octets {
		if o == "" {
			return false
		}
		for _, r := range o {
			if r < '0' || r > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(o)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// Reserved reports whether ip ends in the gateway octet.
func Reserved(ip string) bool {
	return strings.HasSuffix(ip, ".1") && lastOctet(ip) == 1
}

// Prefix returns the first three octets of ip.
func Prefix(ip string) string {
	i := strings.LastIndex(ip, ".")
	if i < 0 {
		return ip
	}
	return ip[:i]
}

// Gateway returns the gateway address of ip's /24.
func Gateway(ip string) string {
	return Prefix(ip) + ".1"
}

// Broadcast returns the broadcast address of ip's /24.
func Broadcast(ip string) string {
	return Prefix(ip) + ".255"
}

func lastOctet(ip string) int {
	n, err := strconv.Atoi(ip[strings.LastIndex(ip, ".")+1:])
	if err != nil {
		return -1
	}
	return n
}

// next returns the following host address in ip's /24, wrapping from 254
// back to 2.
func next(ip string) string {
	n := lastOctet(ip) + 1
	if n > lastHost || n < firstHost {
		n = firstHost
	}
	return Prefix(ip) + "." + strconv.Itoa(n)
}
