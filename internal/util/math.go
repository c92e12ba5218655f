package util

// Percent returns part/total as a percentage, or 0 when total is zero.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// ClampNonNegative returns x, or 0 if x is negative.
func ClampNonNegative(x int) int {
	if x < 0 {
		return 0
	}
	return x
}
