package models

import (
	"math"
	"strconv"
)

// AmountScale is the number of Amount units in one cent.
const AmountScale = 100_000

// Amount is money in hundred-thousandths of a cent. Sub-cent precision keeps
// cheap completions from rounding down to free.
type Amount int64

// Cents returns the amount in cents.
func (a Amount) Cents() float64 {
	return float64(a) / AmountScale
}

// Dollars returns the amount in dollars.
func (a Amount) Dollars() float64 {
	return a.Cents() / 100
}

// String formats the amount in cents with at most four decimals.
func (a Amount) String() string {
	return FormatCents(a.Cents())
}

// FormatCents renders a cent value rounded to four decimals without trailing zeros.
func FormatCents(cents float64) string {
	rounded := math.Round(cents*1e4) / 1e4
	if rounded == 0 {
		rounded = 0 // normalizes -0
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
