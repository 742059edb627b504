package essays

import (
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Pricing holds token prices in centavos per 1000 tokens.
type Pricing struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

// CostCents prices a call, rounding any fraction of a centavo up.
func (p Pricing) CostCents(inputTokens, outputTokens int64) int64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	total := decimal.NewFromInt(inputTokens).Mul(p.InputPer1K).
		Add(decimal.NewFromInt(outputTokens).Mul(p.OutputPer1K)).
		Div(thousand)
	return total.Ceil().IntPart()
}
