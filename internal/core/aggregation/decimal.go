package aggregation

import "github.com/shopspring/decimal"

// DisplayPlaces is the precision of presentation fields (percentages, averages).
const DisplayPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// Ratio returns num/den as an exact decimal fraction, or zero when den is 0.
// Results are never rounded here; rounding happens only at presentation.
func Ratio(num, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den))
}

// Percent converts a stored rate into a display percentage rounded to DisplayPlaces.
func Percent(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(hundred).Round(DisplayPlaces)
}

// Display rounds an arbitrary stored metric for presentation.
func Display(v decimal.Decimal) decimal.Decimal {
	return v.Round(DisplayPlaces)
}
