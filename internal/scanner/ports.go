package scanner

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPortRange is used when a port scan is requested without ports.
const DefaultPortRange = "1-1000"

const maxPort = 65535

// PortSpan is an inclusive range of TCP ports.
type PortSpan struct {
	Low  int
	High int
}

// PortRange is a parsed port specification such as "22,80,8000-8100".
type PortRange []PortSpan

// ParsePortRange parses a comma separated list of ports and low-high ranges.
// An empty spec yields DefaultPortRange.
func ParsePortRange(spec string) (PortRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultPortRange
	}

	var pr PortRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty element in port range %q", spec)
		}

		lo, hi, isRange := strings.Cut(part, "-")
		low, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		high := low
		if isRange {
			if high, err = parsePort(hi); err != nil {
				return nil, err
			}
		}
		if low > high {
			return nil, fmt.Errorf("port range %q is inverted", part)
		}
		pr = append(pr, PortSpan{Low: low, High: high})
	}
	return pr, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < 1 || p > maxPort {
		return 0, fmt.Errorf("port %d out of range 1-%d", p, maxPort)
	}
	return p, nil
}

// Count returns the number of ports covered, counting overlaps twice.
func (pr PortRange) Count() int {
	n := 0
	for _, s := range pr {
		n += s.High - s.Low + 1
	}
	return n
}

// String renders the range in the canonical form sent to the backend.
func (pr PortRange) String() string {
	parts := make([]string, len(pr))
	for i, s := range pr {
		if s.Low == s.High {
			parts[i] = strconv.Itoa(s.Low)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", s.Low, s.High)
		}
	}
	return strings.Join(parts, ",")
}

// NormalizePorts validates spec and returns its canonical form.
func NormalizePorts(spec string) (string, error) {
	pr, err := ParsePortRange(spec)
	if err != nil {
		return "", err
	}
	return pr.String(), nil
}
