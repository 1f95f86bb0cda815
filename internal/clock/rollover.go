package clock

import "time"

// KeyLayout is the canonical session-key date format.
const KeyLayout = "2006-01-02"

// SessionKey maps an instant to the night it belongs to. Local times before
// rolloverHour count toward the previous calendar day, so a night that starts
// in the evening and runs past midnight keeps a single key.
func SessionKey(at time.Time, loc *time.Location, rolloverHour int) string {
	local := at.In(loc)
	if local.Hour() < rolloverHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(KeyLayout)
}

// NextRollover returns the next wall-clock instant, strictly after the given
// one, at which the session key changes for a fixed zone and rollover hour.
// time.Date normalizes instants that fall inside a DST gap.
func NextRollover(after time.Time, loc *time.Location, rolloverHour int) time.Time {
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), rolloverHour, 0, 0, 0, loc)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// OffsetMinutes is the UTC offset of the zone at the given instant, in
// minutes. Captured alongside dose 1 to detect timezone drift mid-session.
func OffsetMinutes(at time.Time, loc *time.Location) int {
	_, offset := at.In(loc).Zone()
	return offset / 60
}

// Elapsed computes to−from. A negative interval explainable by a single
// midnight rollover is normalized by adding 24h; anything more negative is
// returned as-is with anomalous=true so callers can suppress nonsensical
// values.
func Elapsed(from, to time.Time) (d time.Duration, anomalous bool) {
	d = to.Sub(from)
	if d >= 0 {
		return d, false
	}
	if d >= -24*time.Hour {
		return d + 24*time.Hour, false
	}
	return d, true
}
