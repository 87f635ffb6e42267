package audio

// WavePoint is one decimated sample for waveform display. Index is the sample
// index within its frame.
type WavePoint struct {
	Index int   `json:"i"`
	Value int16 `json:"v"`
}

// PeakAnalyzer computes the peak sample of a frame and, optionally, a
// decimated copy of its waveform for display.
//
// The peak is the largest sample value, not the largest magnitude: a frame
// made only of strong negative excursions has a low peak and does not open
// the gate. This mirrors the detector the gate was tuned against.
//
// The zero value analyses peaks only. PeakAnalyzer holds no state and is safe
// for concurrent use.
type PeakAnalyzer struct {
	// Decimation emits every Nth sample as a [WavePoint]. Zero or negative
	// disables waveform output.
	Decimation int
}

// Peak returns the maximum sample value in frame, or 0 for a frame with no
// complete sample.
func (a PeakAnalyzer) Peak(frame Frame) int16 {
	p, _ := a.analyze(frame, false)
	return p
}

// Analyze returns the frame peak and, if Decimation > 0, every Decimation-th
// sample as a [WavePoint].
func (a PeakAnalyzer) Analyze(frame Frame) (int16, []WavePoint) {
	return a.analyze(frame, a.Decimation > 0)
}

func (a PeakAnalyzer) analyze(frame Frame, wave bool) (int16, []WavePoint) {
	n := frame.Samples()
	if n == 0 {
		return 0, nil
	}

	var points []WavePoint
	if wave {
		points = make([]WavePoint, 0, (n+a.Decimation-1)/a.Decimation)
	}

	peak := SampleAt(frame, 0)
	for i := 0; i < n; i++ {
		s := SampleAt(frame, i)
		if wave && i%a.Decimation == 0 {
			points = append(points, WavePoint{Index: i, Value: s})
		}
		if s > peak {
			peak = s
		}
	}
	return peak, points
}
