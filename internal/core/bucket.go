package core

import "github.com/shopspring/decimal"

// PriceBucket is a labeled price interval. The first bucket is closed
// [Low, High], the following ones are (Low, High]. The last bucket has no
// upper bound.
type PriceBucket struct {
	Label   string
	Low     decimal.Decimal
	High    decimal.Decimal
	Bounded bool
}

// PriceBuckets is the fixed histogram layout, in ascending price order.
var PriceBuckets = []PriceBucket{
	bounded("0 - 100", 0, 100),
	bounded("101 - 200", 100, 200),
	bounded("201 - 300", 200, 300),
	bounded("301 - 400", 300, 400),
	bounded("401 - 500", 400, 500),
	bounded("501 - 600", 500, 600),
	bounded("601 - 700", 600, 700),
	bounded("701 - 800", 700, 800),
	bounded("801 - 900", 800, 900),
	{Label: "901-above", Low: decimal.NewFromInt(900)},
}

func bounded(label string, low, high int64) PriceBucket {
	return PriceBucket{
		Label:   label,
		Low:     decimal.NewFromInt(low),
		High:    decimal.NewFromInt(high),
		Bounded: true,
	}
}

// Contains reports whether price falls in the bucket. The bucket starting
// at zero includes zero itself.
func (b PriceBucket) Contains(price decimal.Decimal) bool {
	if b.Low.IsZero() {
		if price.IsNegative() {
			return false
		}
	} else if !price.GreaterThan(b.Low) {
		return false
	}
	return !b.Bounded || price.LessThanOrEqual(b.High)
}

// BucketIndex returns the index into PriceBuckets for price, or -1 for a
// negative price.
func BucketIndex(price decimal.Decimal) int {
	for i, b := range PriceBuckets {
		if b.Contains(price) {
			return i
		}
	}
	return -1
}

// BucketOrder returns the position of label in PriceBuckets, or -1.
func BucketOrder(label string) int {
	for i, b := range PriceBuckets {
		if b.Label == label {
			return i
		}
	}
	return -1
}
