package window

import (
	"time"
)

// MembershipTracker maintains "joined in the last N days" account sets over a
// trailing horizon, one day bucket at a time. Day buckets are disjoint by
// construction upstream; the tracker does not dedup across days.
//
// Buckets closed out of the horizon are never rescanned: the rolling union is
// maintained incrementally as days are appended.
type MembershipTracker struct {
	horizonDays int
	buckets     []dayBucket
	rolling     map[string]int
}

type dayBucket struct {
	date   time.Time
	joined []string
}

// NewMembershipTracker creates a tracker with the given trailing horizon.
// The rolling set for day d covers buckets from d-horizonDays through d.
func NewMembershipTracker(horizonDays int) *MembershipTracker {
	if horizonDays < 0 {
		horizonDays = 0
	}
	return &MembershipTracker{
		horizonDays: horizonDays,
		rolling:     make(map[string]int),
	}
}

// Append records the accounts that joined on date and returns the rolling
// set for that day. Dates must be appended in increasing order.
func (t *MembershipTracker) Append(date time.Time, joins []string) map[string]struct{} {
	date = Midnight(date)

	t.buckets = append(t.buckets, dayBucket{date: date, joined: joins})
	for _, id := range joins {
		t.rolling[id]++
	}

	t.evict(date)
	return t.RollingSet()
}

// evict drops buckets that fell out of the trailing horizon for day d.
func (t *MembershipTracker) evict(d time.Time) {
	cutoff := d.Add(-time.Duration(t.horizonDays) * Day)
	kept := 0
	for _, bucket := range t.buckets {
		if bucket.date.Before(cutoff) {
			for _, id := range bucket.joined {
				t.rolling[id]--
				if t.rolling[id] <= 0 {
					delete(t.rolling, id)
				}
			}
			continue
		}
		t.buckets[kept] = bucket
		kept++
	}
	t.buckets = t.buckets[:kept]
}

// RollingSet returns a copy of the current trailing-horizon union.
func (t *MembershipTracker) RollingSet() map[string]struct{} {
	set := make(map[string]struct{}, len(t.rolling))
	for id := range t.rolling {
		set[id] = struct{}{}
	}
	return set
}

// Horizon returns the configured trailing horizon in days.
func (t *MembershipTracker) Horizon() int {
	return t.horizonDays
}
