package core

import "time"

// monthTagLayout is the wire form of a calendar month, e.g. "08-2025".
const monthTagLayout = "01-2006"

// ShipmentFilter selects a subset of the ledger. Every field is optional;
// the present criteria compose with logical AND, absent criteria impose no
// constraint. Date bounds are inclusive.
//
// MonthTag is shorthand for the [first instant, last instant] range of a
// calendar month. A tag that does not parse as "MM-YYYY" selects nothing
// rather than raising an error.
type ShipmentFilter struct {
	Product   *Product
	Status    *Status
	DateStart *time.Time
	DateEnd   *time.Time
	MonthTag  string
}

// HasFilters reports whether any criterion is set. An empty filter matches
// every record.
func (f ShipmentFilter) HasFilters() bool {
	return f.Product != nil || f.Status != nil || f.DateStart != nil || f.DateEnd != nil || f.MonthTag != ""
}

// Matches evaluates the composite predicate against a single shipment.
// It mirrors the SQL translation done by the record store so in-memory
// subsets filter identically.
func (f ShipmentFilter) Matches(s Shipment) bool {
	if f.Product != nil && s.Product != *f.Product {
		return false
	}
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.DateStart != nil && s.CreatedAt.Before(*f.DateStart) {
		return false
	}
	if f.DateEnd != nil && s.CreatedAt.After(*f.DateEnd) {
		return false
	}
	if f.MonthTag != "" {
		start, end, err := MonthInterval(f.MonthTag)
		if err != nil {
			return false // malformed tag fails soft: no match
		}
		if s.CreatedAt.Before(start) || s.CreatedAt.After(end) {
			return false
		}
	}
	return true
}

// FilterForMonth builds a filter spanning one calendar month, both as an
// explicit date range and as the equivalent month tag.
func FilterForMonth(year int, month time.Month) ShipmentFilter {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := lastInstantOfMonth(start)
	return ShipmentFilter{
		DateStart: &start,
		DateEnd:   &end,
		MonthTag:  MonthTagOf(start),
	}
}

// MonthTagOf renders the "MM-YYYY" tag of the month containing t.
func MonthTagOf(t time.Time) string {
	return t.UTC().Format(monthTagLayout)
}

// ParseMonthTag parses a strict "MM-YYYY" tag. Out-of-range months such as
// "13-2024" are rejected.
func ParseMonthTag(tag string) (year int, month time.Month, err error) {
	t, perr := time.Parse(monthTagLayout, tag)
	if perr != nil {
		return 0, 0, ErrInvalidMonthTag
	}
	return t.Year(), t.Month(), nil
}

// MonthInterval resolves a month tag to its inclusive [start, end] range:
// first instant of the month through its last millisecond, matching the
// millisecond resolution of stored timestamps.
func MonthInterval(tag string) (start, end time.Time, err error) {
	year, month, err := ParseMonthTag(tag)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, lastInstantOfMonth(start), nil
}

func lastInstantOfMonth(start time.Time) time.Time {
	return start.AddDate(0, 1, 0).Add(-time.Millisecond)
}
