package vad

import "math"

// Classifier scores one analysis window of PCM16 as the probability of speech.
type Classifier interface {
	Probability(window []int16) float64
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(window []int16) float64

func (f ClassifierFunc) Probability(w []int16) float64 { return f(w) }

// Energy maps normalized RMS onto [0,1] linearly between Floor and Ceil.
type Energy struct {
	Floor float64
	Ceil  float64
}

func NewEnergy() *Energy { return &Energy{Floor: 0.004, Ceil: 0.03} }

func (e *Energy) Probability(w []int16) float64 {
	level := RMS(w)
	if e.Ceil <= e.Floor {
		if level >= e.Floor {
			return 1
		}
		return 0
	}
	p := (level - e.Floor) / (e.Ceil - e.Floor)
	return math.Max(0, math.Min(1, p))
}

// RMS of w normalized to full scale.
func RMS(w []int16) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(w)))
}
