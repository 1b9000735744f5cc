package syncer

// MaxObserved returns the highest history id seen, never below start.
func MaxObserved(start uint64, candidates ...uint64) uint64 {
	max := start
	for _, c := range candidates {
		if c > max {
			max = c
		}
	}
	return max
}
