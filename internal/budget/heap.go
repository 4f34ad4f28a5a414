package budget

import (
	"math"
	"regexp"
	"strconv"
)

// DefaultHeapMB is returned by ParseHeapSize when no heap flag is present.
const DefaultHeapMB = 1024

var heapFlag = regexp.MustCompile(`^-Xmx(\d+)([gGmMkK])$`)

// ParseHeapSize returns the maximum heap size, in megabytes, named by the
// first -Xmx token in tokens. Kilobyte values are truncated to whole
// megabytes.
func ParseHeapSize(tokens []string) int {
	for _, tok := range tokens {
		m := heapFlag.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Too large for int; keep scanning like any other non-match.
			continue
		}
		switch m[2] {
		case "g", "G":
			if n > math.MaxInt/1024 {
				// Overflows as megabytes; skipped like the case above.
				continue
			}
			return n * 1024
		case "m", "M":
			return n
		default:
			return n / 1024
		}
	}
	return DefaultHeapMB
}
