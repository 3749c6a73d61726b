package indicator

import "tradeflow/models"

// Profile is the volume-profile summary for a bar window: the price level
// with the heaviest traded volume and the span holding the value-area
// fraction of total volume around it.
type Profile struct {
	POC           float64
	ValueAreaHigh float64
	ValueAreaLow  float64
}

// volumeProfile buckets each bar's volume onto the price level nearest its
// close, over the most recent window bars. Levels are evenly spaced across
// [min(low), max(high)] of that slice. The value area grows outward from
// the POC one level at a time, taking whichever adjacent side holds more
// volume; ties go to the lower side.
func volumeProfile(w models.BarWindow, window, levels int, fraction float64) Profile {
	n := w.Len()
	if n < window || levels < 2 {
		return Profile{}
	}

	highs := w.Highs[n-window:]
	lows := w.Lows[n-window:]
	closes := w.Closes[n-window:]
	volumes := w.Volumes[n-window:]

	priceMin, priceMax := lows[0], highs[0]
	for i := 1; i < window; i++ {
		if lows[i] < priceMin {
			priceMin = lows[i]
		}
		if highs[i] > priceMax {
			priceMax = highs[i]
		}
	}

	step := (priceMax - priceMin) / float64(levels-1)
	prices := make([]float64, levels)
	for i := range prices {
		prices[i] = priceMin + float64(i)*step
	}

	volumeAt := make([]float64, levels)
	var total float64
	for i := 0; i < window; i++ {
		volumeAt[nearestLevel(prices, closes[i])] += volumes[i]
		total += volumes[i]
	}

	pocIdx := 0
	for i, v := range volumeAt {
		if v > volumeAt[pocIdx] {
			pocIdx = i
		}
	}

	target := total * fraction
	accumulated := volumeAt[pocIdx]
	lower, upper := pocIdx, pocIdx
	for accumulated < target && (lower > 0 || upper < levels-1) {
		var lowerNext, upperNext float64
		if lower > 0 {
			lowerNext = volumeAt[lower-1]
		}
		if upper < levels-1 {
			upperNext = volumeAt[upper+1]
		}
		if lowerNext >= upperNext && lower > 0 {
			lower--
			accumulated += lowerNext
		} else if upper < levels-1 {
			upper++
			accumulated += upperNext
		} else {
			break
		}
	}

	return Profile{
		POC:           prices[pocIdx],
		ValueAreaHigh: prices[upper],
		ValueAreaLow:  prices[lower],
	}
}

func nearestLevel(prices []float64, price float64) int {
	best := 0
	bestDist := price - prices[0]
	if bestDist < 0 {
		bestDist = -bestDist
	}
	for i := 1; i < len(prices); i++ {
		dist := price - prices[i]
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}
