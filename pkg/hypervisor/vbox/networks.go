package vbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/lencap/vm/pkg/hypervisor"
)

const segmentNetmask = "255.255.255.0"

// ListSegments implements hypervisor.Networks.
func (s *Session) ListSegments(ctx context.Context) ([]hypervisor.Segment, error) {
	out, err := s.run(ctx, "list", "hostonlyifs")
	if err != nil {
		return nil, err
	}
	return parseSegments(out), nil
}

func parseSegments(out string) []hypervisor.Segment {
	var segs []hypervisor.Segment
	for _, b := range parseBlocks(out) {
		if b["Name"] == "" {
			continue
		}
		segs = append(segs, hypervisor.Segment{
			Name:    b["Name"],
			Gateway: b["IPAddress"],
			Netmask: b["NetworkMask"],
			DHCP:    strings.EqualFold(b["DHCP"], "Enabled"),
			Up:      strings.EqualFold(b["Status"], "Up"),
		})
	}
	return segs
}

// CreateSegment implements hypervisor.Networks.
func (s *Session) CreateSegment(ctx context.Context, gateway string) (string, error) {
	out, err := s.run(ctx, "hostonlyif", "create")
	if err != nil {
		return "", err
	}
	m := createdIf.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("hostonlyif create: unexpected output %q", strings.TrimSpace(out))
	}
	name := m[1]
	if _, err := s.run(ctx, "hostonlyif", "ipconfig", name, "--ip", gateway, "--netmask", segmentNetmask); err != nil {
		// Leave no half-configured interface behind.
		s.run(ctx, "hostonlyif", "remove", name)
		return "", err
	}
	s.log.Info("created host-only network", "name", name, "gateway", gateway)
	return name, nil
}

// DeleteSegment implements hypervisor.Networks.
func (s *Session) DeleteSegment(ctx context.Context, name string) error {
	segs, err := s.ListSegments(ctx)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if seg.Name == name {
			_, err := s.run(ctx, "hostonlyif", "remove", name)
			return err
		}
	}
	return hypervisor.ErrSegmentNotFound
}
