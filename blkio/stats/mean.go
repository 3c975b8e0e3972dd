package stats

import "github.com/aclements/go-moremath/stats"

// meanOf delegates the mean computation to go-moremath/stats.Sample
// rather than keeping a hand-rolled running sum alongside the running
// min/max already tracked in Latency.
func meanOf(xs []float64) float64 {
	s := stats.Sample{Xs: xs}
	return s.Mean()
}
