package tokens

// RequestCost computes the token cost of a request: the model's base cost,
// scaled up with input size in 100-character increments, never below base.
func RequestCost(baseCost int64, inputLen int) int64 {
	if baseCost <= 0 {
		return 0
	}
	if inputLen < 0 {
		inputLen = 0
	}
	scaled := (baseCost*int64(inputLen) + 99) / 100
	if scaled < baseCost {
		return baseCost
	}
	return scaled
}
