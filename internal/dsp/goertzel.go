package dsp

import "math"

// Goertzel returns the normalized magnitude of the DFT bin nearest to freq
// over samples taken at sampleRate.
func Goertzel(samples []float64, freq, sampleRate float64) float64 {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return 0
	}
	k := math.Floor(0.5 + float64(n)*freq/sampleRate)
	omega := 2 * math.Pi * k / float64(n)
	sine, cosine := math.Sincos(omega)
	coeff := 2 * cosine

	var q1, q2 float64
	for _, x := range samples {
		q0 := coeff*q1 - q2 + x
		q2 = q1
		q1 = q0
	}
	re := q1 - q2*cosine
	im := q2 * sine
	return math.Sqrt(re*re+im*im) / float64(n)
}
