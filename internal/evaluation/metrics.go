package evaluation

// HitAtK reports whether truth appears among the first k predicted items.
// A list shorter than k is checked in full.
func HitAtK(truth string, predicted []string, k int) bool {
	if k > len(predicted) {
		k = len(predicted)
	}
	for i := 0; i < k; i++ {
		if predicted[i] == truth {
			return true
		}
	}
	return false
}

// hitRate returns hits/total, or 0 when there are no scenarios.
func hitRate(hits, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
