package resources

import (
	"fmt"
	"strconv"
	"strings"
)

// Version modifier weights: pre-releases sort below the plain release,
// post-releases above it.
var versionMods = map[string]int{
	"pre":  -2,
	"rc":   -1,
	"":     0,
	"post": 1,
}

// EncodeVersion renders a dotted version string, optionally carrying
// pre/rc/post modifiers, into a fixed-width form whose lexicographic
// order matches the version order. Malformed versions produce no terms
// and stay out of the index.
func EncodeVersion(v any) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var b strings.Builder
	for {
		unit := s
		mod := ""
		last := true
		if dash := strings.IndexByte(s, '-'); dash >= 0 {
			unit = s[:dash]
			s = s[dash+1:]
			j := 0
			for j < len(s) && s[j] >= 'a' && s[j] <= 'z' {
				j++
			}
			mod, s = s[:j], s[j:]
			last = s == ""
		}
		nums, ok := parseVersionUnit(unit)
		if !ok {
			return nil
		}
		weight, ok := versionMods[mod]
		if !ok {
			return nil
		}
		// Keep the three least significant numbers, zero padded on the
		// left, so 1.2 and 0.1.2 align.
		for len(nums) < 3 {
			nums = append([]int64{0}, nums...)
		}
		nums = nums[len(nums)-3:]
		for _, n := range nums {
			fmt.Fprintf(&b, "%05d", n)
		}
		fmt.Fprintf(&b, "%02d", 10+weight)
		if last {
			break
		}
	}
	return []string{b.String()}
}

func parseVersionUnit(unit string) ([]int64, bool) {
	if unit == "" {
		return nil, true
	}
	parts := strings.Split(unit, ".")
	nums := make([]int64, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		nums = append(nums, n)
	}
	return nums, true
}
