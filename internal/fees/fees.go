package fees

// Rates holds the fee parameters used to price a rental.
type Rates struct {
	ServiceFeeRate    float64 // fraction of the subtotal
	ProcessingFeeRate float64 // fraction of subtotal + service fee
	ProcessingFeeFlat float64 // flat amount added to the processing fee
}

// DefaultRates returns the standard platform rates.
func DefaultRates() Rates {
	return Rates{
		ServiceFeeRate:    0.10,
		ProcessingFeeRate: 0.029,
		ProcessingFeeFlat: 0.30,
	}
}

// Breakdown is an itemized price quote for a rental.
type Breakdown struct {
	DailyRate        float64 `json:"daily_rate"`
	Days             int     `json:"days"`
	Deposit          float64 `json:"deposit"`
	Subtotal         float64 `json:"subtotal"`
	ServiceFee       float64 `json:"service_fee"`
	ProcessingFee    float64 `json:"processing_fee"`
	Total            float64 `json:"total"`
	TotalWithDeposit float64 `json:"total_with_deposit"`
}

// Quote computes the itemized fee breakdown for a rental. The service fee is
// charged on the subtotal only; the processing fee is charged on subtotal plus
// service fee, with a flat component on top. The deposit is excluded from all
// fees and only appears in the final amount.
func Quote(dailyRate float64, days int, deposit float64, rates Rates) Breakdown {
	subtotal := dailyRate * float64(days)
	serviceFee := subtotal * rates.ServiceFeeRate
	processingFee := (subtotal+serviceFee)*rates.ProcessingFeeRate + rates.ProcessingFeeFlat
	total := subtotal + serviceFee + processingFee

	return Breakdown{
		DailyRate:        dailyRate,
		Days:             days,
		Deposit:          deposit,
		Subtotal:         subtotal,
		ServiceFee:       serviceFee,
		ProcessingFee:    processingFee,
		Total:            total,
		TotalWithDeposit: total + deposit,
	}
}
