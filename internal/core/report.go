package core

import "strconv"

// MonthlyIncome is one row of the monthly income report: a completion month
// and the completed value booked in it.
type MonthlyIncome struct {
	Month string // "MM-YYYY"
	Total Money
}

// Totals aggregates a record subset: summed value and record count.
type Totals struct {
	Value Money
	Count int
}

// TotalValue sums effectiveQuantity * unitPrice over the subset. An empty
// subset sums to zero.
func TotalValue(shipments []Shipment) Money {
	var cents int64
	for _, s := range shipments {
		cents += s.TotalValue().Cents
	}
	return Money{Cents: cents}
}

// FormatMonthTag renders a month tag in human-readable form, e.g.
// "01-2025" -> "January 2025". Malformed tags are echoed back unchanged.
func FormatMonthTag(tag string) string {
	year, month, err := ParseMonthTag(tag)
	if err != nil {
		return tag
	}
	return month.String() + " " + strconv.Itoa(year)
}
