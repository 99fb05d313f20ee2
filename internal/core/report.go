package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Statistics summarizes one month. TotalSaleAmount sums every record of the
// month, sold or not.
type Statistics struct {
	TotalSaleAmount   decimal.Decimal `json:"totalSaleAmount"`
	TotalSoldItems    int64           `json:"totalSoldItems"`
	TotalNotSoldItems int64           `json:"totalNotSoldItems"`
}

// PriceRangeCount is one non-empty histogram bar.
type PriceRangeCount struct {
	PriceRange string `json:"priceRange"`
	ItemCount  int64  `json:"itemCount"`
}

// CategoryCount is one slice of the category distribution.
type CategoryCount struct {
	Category  string `json:"category"`
	ItemCount int64  `json:"itemCount"`
}

// CombinedReport merges the three monthly views.
type CombinedReport struct {
	Statistics Statistics        `json:"statistics"`
	BarChart   []PriceRangeCount `json:"barChart"`
	PieChart   []CategoryCount   `json:"pieChart"`
}

// EmptyStatistics is the result for a month without records.
func EmptyStatistics() Statistics {
	return Statistics{TotalSaleAmount: decimal.Zero}
}

// MarshalJSON renders TotalSaleAmount as a JSON number rather than the
// quoted string decimal uses by default.
func (s Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TotalSaleAmount   json.Number `json:"totalSaleAmount"`
		TotalSoldItems    int64       `json:"totalSoldItems"`
		TotalNotSoldItems int64       `json:"totalNotSoldItems"`
	}{
		TotalSaleAmount:   json.Number(s.TotalSaleAmount.String()),
		TotalSoldItems:    s.TotalSoldItems,
		TotalNotSoldItems: s.TotalNotSoldItems,
	})
}
