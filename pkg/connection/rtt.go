package connection

import "time"

// Default round-trip timing parameters.
const (
	DefaultRTTSmoothing    = 0.1
	DefaultInitialTimeout  = 500 * time.Millisecond
	DefaultMinRetransmitTO = 50 * time.Millisecond
)

// RTTEstimator keeps an exponential moving average of measured round-trip
// times for one connection and derives the retransmission timeout from it.
type RTTEstimator struct {
	smoothed time.Duration
	variance time.Duration
	alpha    float64
	initial  time.Duration
	min      time.Duration
	sampled  bool
}

// NewRTTEstimator constructs an estimator with the provided smoothing factor
// and timeout bounds. Zero values fall back to the defaults.
func NewRTTEstimator(alpha float64, initial, min time.Duration) *RTTEstimator {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultRTTSmoothing
	}
	if initial <= 0 {
		initial = DefaultInitialTimeout
	}
	if min <= 0 {
		min = DefaultMinRetransmitTO
	}
	return &RTTEstimator{alpha: alpha, initial: initial, min: min}
}

// Update folds one measured round-trip sample into the moving average.
func (e *RTTEstimator) Update(sample time.Duration) {
	if sample < 0 {
		return
	}
	if !e.sampled {
		e.smoothed = sample
		e.variance = sample / 2
		e.sampled = true
		return
	}
	diff := sample - e.smoothed
	if diff < 0 {
		e.variance += time.Duration(e.alpha * float64(-diff-e.variance))
	} else {
		e.variance += time.Duration(e.alpha * float64(diff-e.variance))
	}
	e.smoothed += time.Duration(e.alpha * float64(diff))
}

// SmoothedRTT returns the current round-trip estimate, zero before the first
// sample.
func (e *RTTEstimator) SmoothedRTT() time.Duration { return e.smoothed }

// RetransmitTimeout returns how long a reliable parcel may stay
// unacknowledged before it is due for retransmission: twice the smoothed
// round-trip time, floored to avoid spurious retransmits on near-zero
// latency links, or a conservative default before any sample exists.
func (e *RTTEstimator) RetransmitTimeout() time.Duration {
	if !e.sampled {
		return e.initial
	}
	if rto := 2 * e.smoothed; rto > e.min {
		return rto
	}
	return e.min
}
