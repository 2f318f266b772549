package envelope

import (
	"math"
	"sort"
)

func doubleBits(v float64) uint64 { return math.Float64bits(v) }

func bitsDouble(v uint64) float64 { return math.Float64frombits(v) }

// sortedKeys returns a map's keys in deterministic order, needed anywhere a
// map is part of the canonical byte form (SecurityEvent.Attrs,
// DeviceTelemetry.Meta) since Go's map iteration order is randomized.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
