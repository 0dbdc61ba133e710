// Package detector classifies scraped pane text: crash evidence with a
// confirmation window, idle detection over snapshot diffs, and the two-slot
// terminal content cache. All classification tables are injected as data
// (config.DetectorConfig) so they can be tuned and tested as pure functions.
package detector

// CacheStatus is the idle classification derived from the two content slots.
type CacheStatus string

const (
	// StatusUnknown means fewer than two observations exist.
	StatusUnknown CacheStatus = "unknown"
	// StatusNewlyIdle means the two slots differ: the agent produced output
	// between observations and only just went quiet.
	StatusNewlyIdle CacheStatus = "newly_idle"
	// StatusContinuouslyIdle means both slots match: no output between
	// observations.
	StatusContinuouslyIdle CacheStatus = "continuously_idle"
)

// TerminalCache holds exactly two content observations per agent. Update
// shifts later into early and stores the new sample; Status compares the two
// slots. One instance exists per agent target and is discarded whenever the
// agent is classified ACTIVE so the next idle episode starts fresh.
type TerminalCache struct {
	early string
	later string
	// maxDistance, when > 0, treats slots within this Levenshtein distance
	// as equal. Cursor blinks and clock redraws otherwise defeat the
	// continuously-idle detection.
	maxDistance int

	hasEarly bool
	hasLater bool
}

// NewTerminalCache creates a cache. maxDistance 0 means exact comparison.
func NewTerminalCache(maxDistance int) *TerminalCache {
	return &TerminalCache{maxDistance: maxDistance}
}

// Update shifts later into early and stores the new sample.
func (c *TerminalCache) Update(sample string) {
	c.early, c.hasEarly = c.later, c.hasLater
	c.later, c.hasLater = sample, true
}

// Status classifies the cached pair.
func (c *TerminalCache) Status() CacheStatus {
	if !c.hasEarly || !c.hasLater {
		return StatusUnknown
	}
	if c.matches(c.early, c.later) {
		return StatusContinuouslyIdle
	}
	return StatusNewlyIdle
}

func (c *TerminalCache) matches(a, b string) bool {
	if a == b {
		return true
	}
	if c.maxDistance <= 0 {
		return false
	}
	return boundedEditDistance(a, b, c.maxDistance) <= c.maxDistance
}

// boundedEditDistance computes Levenshtein distance, bailing out early with
// max+1 once the distance provably exceeds max.
func boundedEditDistance(a, b string, max int) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(rb)-len(ra) > max {
		return max + 1
	}

	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		rowMin := curr[0]
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[i] + 1
			ins := curr[i-1] + 1
			sub := prev[i-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[i] = m
			if m < rowMin {
				rowMin = m
			}
		}
		if rowMin > max {
			return max + 1
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}
