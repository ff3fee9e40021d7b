package model

// PriceQuote is a cached price snapshot. LastUpdate is unix milliseconds;
// zero values mean no quote has been observed yet.
type PriceQuote struct {
	StxUSD     float64 `json:"stxUsd"`
	SbtcUSD    float64 `json:"sbtcUsd"`
	LastUpdate int64   `json:"lastUpdate"`
}

// MicroStxFactor converts microSTX to STX (1 STX = 1,000,000 microSTX).
const MicroStxFactor = 1_000_000

// CollateralLTV is the loan-to-value fraction applied to STX collateral.
const CollateralLTV = 0.7

// StxValueUSD returns the USD value of an amount in microSTX.
func StxValueUSD(amountMicroStx uint64, stxPrice float64) float64 {
	return float64(amountMicroStx) / MicroStxFactor * stxPrice
}

// BorrowingPower returns the maximum borrowable USD for a collateral value.
func BorrowingPower(collateralUSD float64) float64 {
	return collateralUSD * CollateralLTV
}
