package router

// EstimateTokens approximates a token count as ceil(len(text)/4). It is a
// deterministic character-count proxy, not a tokenizer; the same estimator
// serves viability cost projection and recorded cost.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateCost converts an estimated token count to USD at the given
// per-1000-token rate.
func EstimateCost(text string, costPerToken float64) float64 {
	return float64(EstimateTokens(text)) * costPerToken / 1000
}
