package app

import "math"

const (
	defaultMinRSSI = -100.0 // dBm
	defaultMaxRSSI = -10.0  // dBm

	// For 20 samples:
	// - 5% percentile  = 1 sample
	// - 95% percentile = 19th sample
	minimumSampleCount = 20

	minimumRange = 20 // dB
)

// SignalBounds represents the signal strength range mapped onto the colour scale
type SignalBounds struct {
	Min  float64 // 5th percentile RSSI in dBm
	Max  float64 // 95th percentile RSSI in dBm
	Mean float64 // Mean RSSI in dBm
}

func defaultSignalBounds() SignalBounds {
	return SignalBounds{
		Min:  defaultMinRSSI,
		Max:  defaultMaxRSSI,
		Mean: (defaultMinRSSI + defaultMaxRSSI) / 2,
	}
}

// Span returns the width of the range in dB
func (b SignalBounds) Span() float64 {
	return b.Max - b.Min
}

// SignalHistogram maintains a histogram of RSSI values with 1dBm bins
type SignalHistogram struct {
	bins       map[int]uint32 // Map of bin index to count
	totalCount uint64
	minBin     int
	maxBin     int
}

// NewSignalHistogram creates a new histogram
func NewSignalHistogram() *SignalHistogram {
	return &SignalHistogram{
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

// scaleDown scales all bin counts down by factor of 2
func (h *SignalHistogram) scaleDown() {
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32

	for bin := range h.bins {
		h.bins[bin] /= 2
		if h.bins[bin] == 0 {
			delete(h.bins, bin)
			continue
		}

		h.minBin = min(h.minBin, bin)
		h.maxBin = max(h.maxBin, bin)
	}
	h.totalCount /= 2
}

// Update adds an RSSI reading to the histogram
func (h *SignalHistogram) Update(rssi int) {
	if h.bins[rssi] == math.MaxUint32 || h.totalCount == math.MaxUint64 {
		h.scaleDown()
	}

	h.bins[rssi]++
	h.totalCount++

	h.minBin = min(h.minBin, rssi)
	h.maxBin = max(h.maxBin, rssi)
}

// Count returns the number of readings in the histogram
func (h *SignalHistogram) Count() uint64 {
	return h.totalCount
}

// PercentileBounds returns signal bounds based on the 5th and 95th percentiles.
// Too few samples yield the full 802.11 range.
func (h *SignalHistogram) PercentileBounds() SignalBounds {
	if h.totalCount < minimumSampleCount {
		return defaultSignalBounds()
	}

	target5th := h.totalCount * 5 / 100

	var count uint64
	var min5th, max95th int

	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target5th {
			min5th = bin
			break
		}
	}

	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target5th {
			max95th = bin
			break
		}
	}

	var sumProduct float64
	for bin, n := range h.bins {
		sumProduct += float64(bin) * float64(n)
	}
	mean := sumProduct / float64(h.totalCount)

	if max95th-min5th < minimumRange {
		center := (max95th + min5th) / 2
		min5th = center - minimumRange/2
		max95th = center + minimumRange/2
	}

	margin := (max95th - min5th) / 10
	return SignalBounds{
		Min:  float64(min5th - margin),
		Max:  float64(max95th + margin),
		Mean: mean,
	}
}
