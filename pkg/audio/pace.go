package audio

import (
	"context"
	"time"
)

// Pacer throttles a synthetic source to wall-clock speed. The zero value is
// ready to use.
type Pacer struct {
	deadline time.Time
}

// Wait blocks until one more frame of length d would have elapsed. When the
// caller has fallen more than a second behind (for instance during a blocking
// playback), the schedule is reset instead of bursting to catch up.
func (p *Pacer) Wait(ctx context.Context, d time.Duration) error {
	now := time.Now()
	if p.deadline.IsZero() || p.deadline.Before(now.Add(-time.Second)) {
		p.deadline = now
	}
	p.deadline = p.deadline.Add(d)
	wait := time.Until(p.deadline)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FrameDuration is the playback length of n samples in format f.
func (f Format) FrameDuration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}
