// Package timesync implements the process-wide monotonic/wall clock used
// by the control plane (RF control plane specification Section 4.1).
//
// TimeSource exposes a monotonic clock plus an additive offset and
// multiplicative skew relative to a time master peer: wall = skew*mono +
// offset. Updates to (skew, offset) are applied atomically so concurrent
// readers never observe a torn pair.
package timesync

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrInsufficientSamples indicates a regression was attempted with fewer
// than two echoed sample pairs.
var ErrInsufficientSamples = errors.New("timesync: at least two samples are required")

// WallTime wraps a floating point seconds-since-epoch value.
//
// Following the "monkey-patched protobuf timestamp helper" design note,
// this is a small wrapper type rather than a method added to a generated
// type: Seconds/FromSeconds are the only conversions allowed at the wire
// boundary.
type WallTime struct {
	seconds float64
}

// FromSeconds builds a WallTime from a seconds-since-epoch value.
func FromSeconds(s float64) WallTime { return WallTime{seconds: s} }

// FromTime builds a WallTime from a time.Time.
func FromTime(t time.Time) WallTime {
	return WallTime{seconds: float64(t.UnixNano()) / float64(time.Second)}
}

// Seconds returns the wrapped value as seconds since the epoch.
func (w WallTime) Seconds() float64 { return w.seconds }

// Time converts the WallTime back to a time.Time.
func (w WallTime) Time() time.Time {
	return time.Unix(0, int64(w.seconds*float64(time.Second)))
}

// Sub returns w-o as a time.Duration.
func (w WallTime) Sub(o WallTime) time.Duration {
	return time.Duration((w.seconds - o.seconds) * float64(time.Second))
}

// params is the immutable (skew, offset) parameter block swapped atomically
// on every clock-sync update.
type params struct {
	skew   float64
	offset float64
}

// Sample is one echoed probe pair used by the least-squares regression.
//
// Source carries either a (t_send_local, t_recv_master) pair (this node's
// request, timestamped by the master) or a (t_send_master, t_recv_local)
// pair (the master's echo, timestamped locally); Regress treats both
// uniformly as (local_time, master_time) observations of the same
// underlying linear relationship master = skew*local + offset.
type Sample struct {
	Local  float64
	Master float64
}

// Source is the process-wide TimeSource singleton. The zero value is not
// usable; construct with New.
type Source struct {
	epoch time.Time // monotonic reference point; mono = now-epoch
	p     atomic.Pointer[params]
	gpsdo bool
}

// New creates a Source with default skew=1.0 and offset=0. If gpsdo is
// true, the DSP has a GPS-disciplined oscillator and Regress will force
// skew to exactly 1 and solve only for offset.
func New(gpsdo bool) *Source {
	s := &Source{epoch: time.Now(), gpsdo: gpsdo}
	s.p.Store(&params{skew: 1.0, offset: 0.0})
	return s
}

// Mono returns seconds elapsed on the monotonic clock since the Source was
// constructed.
func (s *Source) Mono() float64 {
	return time.Since(s.epoch).Seconds()
}

// Now returns the current wall-clock time computed from the monotonic
// clock under the current (skew, offset) pair.
func (s *Source) Now() WallTime {
	p := s.p.Load()
	return FromSeconds(p.skew*s.Mono() + p.offset)
}

// SkewOffset returns the currently installed (skew, offset) pair.
func (s *Source) SkewOffset() (skew, offset float64) {
	p := s.p.Load()
	return p.skew, p.offset
}

// Regress solves a constrained least-squares fit over echoed sample pairs
// and atomically installs the resulting (skew, offset). It returns the
// fitted parameters and the estimated one-way delay tau, computed as half
// the mean absolute residual of the fit.
//
// If the Source was constructed with gpsdo=true, skew is forced to 1 and
// only offset is solved (the mean residual of master-local).
func (s *Source) Regress(samples []Sample) (skew, offset, tau float64, err error) {
	if len(samples) < 2 {
		return 0, 0, 0, fmt.Errorf("regress: %w", ErrInsufficientSamples)
	}

	if s.gpsdo {
		offset = meanOffset(samples)
		s.p.Store(&params{skew: 1.0, offset: offset})
		return 1.0, offset, estimateTau(samples, 1.0, offset), nil
	}

	skew, offset = linearFit(samples)
	s.p.Store(&params{skew: skew, offset: offset})
	return skew, offset, estimateTau(samples, skew, offset), nil
}

// linearFit computes the ordinary least-squares slope and intercept of
// master = skew*local + offset.
func linearFit(samples []Sample) (skew, offset float64) {
	n := float64(len(samples))

	var sumX, sumY, sumXY, sumXX float64
	for _, sm := range samples {
		sumX += sm.Local
		sumY += sm.Master
		sumXY += sm.Local * sm.Master
		sumXX += sm.Local * sm.Local
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		// Degenerate (all samples at the same local time): fall back to
		// skew=1 and the mean offset rather than dividing by zero.
		return 1.0, meanOffset(samples)
	}

	skew = (n*sumXY - sumX*sumY) / denom
	offset = (sumY - skew*sumX) / n

	return skew, offset
}

// meanOffset computes the mean of master-skew*local assuming skew=1.
func meanOffset(samples []Sample) float64 {
	var sum float64
	for _, sm := range samples {
		sum += sm.Master - sm.Local
	}
	return sum / float64(len(samples))
}

// estimateTau estimates one-way delay as half the mean absolute residual
// of the fit, a simple stand-in for the two-direction delay decomposition
// used by NTP-style regressions.
func estimateTau(samples []Sample, skew, offset float64) float64 {
	var sum float64
	for _, sm := range samples {
		resid := sm.Master - (skew*sm.Local + offset)
		if resid < 0 {
			resid = -resid
		}
		sum += resid
	}
	return sum / float64(len(samples)) / 2
}
