// Package activations provides unit tests for activation functions.
package activations

import (
	"math"
	"testing"
)

// TestReLU tests ReLU activation.
func TestReLU(t *testing.T) {
	relu := ReLU{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{-1.0, 0.0}, // Negative -> 0
		{0.0, 0.0},  // Zero -> 0
		{1.0, 1.0},  // Positive -> identity
		{2.5, 2.5},
	}

	for _, tt := range tests {
		output := relu.Activate(tt.input)
		if math.Abs(output-tt.expected) > 1e-12 {
			t.Errorf("ReLU(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

func TestLeakyReLU(t *testing.T) {
	l := NewLeakyReLU(0.02)

	tests := []struct {
		input      float64
		expected   float64
		derivative float64
	}{
		{-1.0, -0.02, 0.02},
		{-50.0, -1.0, 0.02},
		{0.0, 0.0, 0.02}, // x <= 0 uses the negative slope
		{3.0, 3.0, 1.0},
	}

	for _, tt := range tests {
		if got := l.Activate(tt.input); math.Abs(got-tt.expected) > 1e-12 {
			t.Errorf("LeakyReLU(%v) = %v, want %v", tt.input, got, tt.expected)
		}
		if got := l.Derivative(tt.input); math.Abs(got-tt.derivative) > 1e-12 {
			t.Errorf("LeakyReLU.Derivative(%v) = %v, want %v", tt.input, got, tt.derivative)
		}
	}
}

// TestSigmoid tests Sigmoid activation and its stability at the tails.
func TestSigmoid(t *testing.T) {
	s := Sigmoid{}

	if got := s.Activate(0); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := s.Derivative(0); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("Sigmoid'(0) = %v, want 0.25", got)
	}
	if got := s.Activate(-1000); got != 0 || math.IsNaN(got) {
		t.Errorf("Sigmoid(-1000) = %v, want 0", got)
	}
	if got := s.Activate(1000); got != 1 {
		t.Errorf("Sigmoid(1000) = %v, want 1", got)
	}
}

func TestByNameRoundTrip(t *testing.T) {
	for _, act := range []Activation{ReLU{}, NewLeakyReLU(0.02), Sigmoid{}, Linear{}} {
		got, err := ByName(act.Name(), Alpha(act))
		if err != nil {
			t.Fatalf("ByName(%q): %v", act.Name(), err)
		}
		for _, x := range []float64{-2, -0.5, 0.5, 2} {
			if got.Activate(x) != act.Activate(x) {
				t.Errorf("%s: Activate(%v) = %v, want %v", act.Name(), x, got.Activate(x), act.Activate(x))
			}
		}
	}

	if _, err := ByName("swish", 0); err == nil {
		t.Error("expected error for unknown activation")
	}
}
