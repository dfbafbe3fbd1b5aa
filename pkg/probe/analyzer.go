package probe

// ChooseBestRoute returns the index of the first Success in results, or -1.
// Earlier entries win over later ones regardless of latency.
func ChooseBestRoute(results []Result) int {
	for i, r := range results {
		if r.Kind == Success {
			return i
		}
	}
	return -1
}
