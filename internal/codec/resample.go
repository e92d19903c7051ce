package codec

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono PCM16 from one sample rate to another.
func Resample(pcm []int16, from, to int) ([]int16, error) {
	if from == to || from <= 0 || to <= 0 || len(pcm) == 0 {
		return pcm, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	in := make([]float64, len(pcm))
	for i, s := range pcm {
		in[i] = float64(s) / 32768.0
	}
	out, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	res := make([]int16, len(out))
	for i, s := range out {
		switch {
		case s > 1.0:
			res[i] = 32767
		case s < -1.0:
			res[i] = -32768
		default:
			res[i] = int16(s * 32767.0)
		}
	}
	return res, nil
}
