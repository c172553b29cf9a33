// internal/region/router.go
package region

import (
	"fmt"

	"github.com/vantage-gg/arena/internal/apperr"
)

// DefaultRegion is used when a request carries neither an explicit region nor
// usable latency hints.
const DefaultRegion = "us-east"

// supported is the routing partition set. Matching never crosses partitions.
var supported = map[string]bool{
	"us-east":      true,
	"us-west":      true,
	"eu-central":   true,
	"ap-southeast": true,
	"sa-east":      true,
}

// Supported reports whether r is a known region.
func Supported(r string) bool {
	return supported[r]
}

// All returns the supported regions in no particular order.
func All() []string {
	out := make([]string, 0, len(supported))
	for r := range supported {
		out = append(out, r)
	}
	return out
}

// Router resolves the matchmaking region for a request. It is a pure
// validator with no shared state; the only failure mode is an unrecognized
// explicit region.
type Router struct{}

// Resolve returns the region to route to. An explicit requested region is
// validated against the supported set and returned unchanged. An empty
// request resolves to the lowest round-trip hint if any are supplied, else
// DefaultRegion.
func (Router) Resolve(requested string, rttHints map[string]int) (string, error) {
	if requested != "" {
		if !supported[requested] {
			return "", fmt.Errorf("%w: %q", apperr.ErrInvalidRegion, requested)
		}
		return requested, nil
	}

	best := ""
	bestRTT := 0
	for r, rtt := range rttHints {
		if !supported[r] || rtt < 0 {
			continue
		}
		if best == "" || rtt < bestRTT {
			best, bestRTT = r, rtt
		}
	}
	if best == "" {
		return DefaultRegion, nil
	}
	return best, nil
}
