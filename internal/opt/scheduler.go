package opt

import "math"

// ReduceLROnPlateau reduces learning rate when a metric has stopped improving.
// Mirrors torch.optim.lr_scheduler.ReduceLROnPlateau in "min" mode with a
// relative threshold.
type ReduceLROnPlateau struct {
	optimizer Optimizer
	Factor    float64
	Patience  int
	Threshold float64 // relative improvement required
	Cooldown  int
	MinLR     float64
	Eps       float64 // reductions smaller than this are ignored

	best            float64
	numBadEpochs    int
	cooldownCounter int
}

// NewReduceLROnPlateau creates a scheduler with PyTorch defaults for the
// threshold (1e-4), cooldown (0) and minimum learning rate (0).
func NewReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, eps float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		optimizer: optimizer,
		Factor:    factor,
		Patience:  patience,
		Threshold: 1e-4,
		Eps:       eps,
		best:      math.Inf(1),
	}
}

// Step records the latest metric value and reduces the learning rate after
// more than Patience epochs without improvement. Reports whether the
// learning rate changed.
func (s *ReduceLROnPlateau) Step(metric float64) bool {
	if metric < s.best*(1-s.Threshold) {
		s.best = metric
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}

	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		s.numBadEpochs = 0
	}

	if s.numBadEpochs <= s.Patience {
		return false
	}

	s.cooldownCounter = s.Cooldown
	s.numBadEpochs = 0

	oldLR := s.optimizer.LearningRate()
	newLR := math.Max(oldLR*s.Factor, s.MinLR)
	if oldLR-newLR <= s.Eps {
		return false
	}
	s.optimizer.SetLearningRate(newLR)
	return true
}

// LR returns the optimizer's current learning rate.
func (s *ReduceLROnPlateau) LR() float64 {
	return s.optimizer.LearningRate()
}
