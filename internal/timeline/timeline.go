// Package timeline implements deterministic transcript ordering and
// date-bucket grouping. Everything here is pure: callers pass messages and a
// reference "now", nothing touches the store or the network.
package timeline

import (
	"slices"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/store"
)

// Bucket key literals. Calendar buckets use the dd-mm-yyyy form.
const (
	BucketToday     = "Today"
	BucketYesterday = "Yesterday"
	BucketUnknown   = "Unknown"

	calendarLayout = "02-01-2006"
	clockLayout    = "15:04"
)

// Item is the minimal sortable view of a message. Timestamp is the
// authoritative server time in unix ms, 0 when unknown; Clock is the
// formatted display time used as a degraded fallback sort key for records
// that never received an authoritative timestamp.
type Item struct {
	ID        string
	Timestamp int64
	Clock     string
}

// ItemOf builds the sortable view of a cached message.
func ItemOf(m store.Message) Item {
	it := Item{ID: m.MsgID, Timestamp: m.Timestamp}
	if m.Timestamp > 0 {
		it.Clock = time.UnixMilli(m.Timestamp).Format(clockLayout)
	}
	return it
}

// Compare orders two items for transcript display.
//
// Primary key is the authoritative timestamp. On exact ties, provisional
// entries sort strictly after confirmed ones so an optimistic send never
// jumps ahead of the acknowledged record it races against; same-status ties
// fall back to lexicographic id comparison for determinism.
//
// When either side lacks an authoritative timestamp the comparison degrades
// to the minute-resolution clock string reinterpreted on a fixed reference
// date. This misorders messages that straddle midnight; a known limitation
// kept from the original behavior rather than silently changed.
func Compare(a, b Item) int {
	if a.Timestamp > 0 && b.Timestamp > 0 {
		if a.Timestamp != b.Timestamp {
			if a.Timestamp < b.Timestamp {
				return -1
			}
			return 1
		}
		return compareTied(a.ID, b.ID)
	}

	ta, aok := clockOnReferenceDay(a.Clock)
	tb, bok := clockOnReferenceDay(b.Clock)
	if aok && bok && !ta.Equal(tb) {
		if ta.Before(tb) {
			return -1
		}
		return 1
	}
	if a.Clock != b.Clock {
		return strings.Compare(a.Clock, b.Clock)
	}
	return compareTied(a.ID, b.ID)
}

func compareTied(aID, bID string) int {
	ap, bp := store.IsProvisionalID(aID), store.IsProvisionalID(bID)
	if ap != bp {
		if ap {
			return 1
		}
		return -1
	}
	return strings.Compare(aID, bID)
}

func clockOnReferenceDay(clock string) (time.Time, bool) {
	t, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SortMessages returns the messages in transcript order, oldest first. The
// input slice is not modified.
func SortMessages(msgs []store.Message) []store.Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, func(a, b store.Message) int {
		return Compare(ItemOf(a), ItemOf(b))
	})
	return out
}

// BucketKey computes the date bucket for a timestamp relative to now:
// same calendar day is Today, exactly one day earlier is Yesterday,
// everything else a dd-mm-yyyy literal. A missing timestamp lands in the
// Unknown sentinel bucket instead of crashing the grouping.
func BucketKey(ts int64, now time.Time) string {
	if ts <= 0 {
		return BucketUnknown
	}
	day := time.UnixMilli(ts).In(now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	msgDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case msgDay.Equal(today):
		return BucketToday
	case msgDay.Equal(today.AddDate(0, 0, -1)):
		return BucketYesterday
	default:
		return msgDay.Format(calendarLayout)
	}
}

// CompareBuckets orders bucket keys for display: calendar dates
// chronologically ascending, then Yesterday, then Today. Keys that are
// neither literals nor parseable dates (the Unknown sentinel included)
// are ordered as plain strings among the calendar buckets.
func CompareBuckets(a, b string) int {
	if a == b {
		return 0
	}
	switch {
	case a == BucketToday:
		return 1
	case b == BucketToday:
		return -1
	case a == BucketYesterday:
		return 1
	case b == BucketYesterday:
		return -1
	}

	da, errA := time.Parse(calendarLayout, a)
	db, errB := time.Parse(calendarLayout, b)
	if errA == nil && errB == nil {
		if da.Before(db) {
			return -1
		}
		if da.After(db) {
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// Bucket is one rendered date group: a key and its messages in transcript
// order.
type Bucket struct {
	Key      string
	Messages []store.Message
}

// Group sorts the messages and partitions them into display-ordered date
// buckets. Every input message appears in exactly one bucket; relative
// order within a bucket follows the transcript order. Empty input yields
// an empty bucket sequence.
func Group(msgs []store.Message, now time.Time) []Bucket {
	sorted := SortMessages(msgs)

	byKey := make(map[string][]store.Message)
	var keys []string
	for _, m := range sorted {
		key := BucketKey(m.Timestamp, now)
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], m)
	}

	slices.SortStableFunc(keys, CompareBuckets)

	buckets := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		buckets = append(buckets, Bucket{Key: key, Messages: byKey[key]})
	}
	return buckets
}
