// Package metrics scores binary classifier outputs.
package metrics

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrOneClass is returned by ROCAUC when all labels belong to one class and
// the curve is undefined.
var ErrOneClass = errors.New("only one class present in labels")

// ROCAUC returns the area under the ROC curve of scores against binary
// labels (1 is positive). Tied scores contribute half credit.
func ROCAUC(labels, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, errors.Errorf("roc auc: %d labels for %d scores", len(labels), len(scores))
	}

	y := make([]float64, len(scores))
	for i, v := range scores {
		if math.IsNaN(v) {
			return 0, errors.Errorf("roc auc: score %d is NaN", i)
		}
		y[i] = v
	}
	classes := make([]bool, len(labels))
	var pos int
	for i, l := range labels {
		classes[i] = l == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return 0, ErrOneClass
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// Confusion counts binary predictions at a fixed threshold.
type Confusion struct {
	TP, FP, TN, FN int
}

// NewConfusion thresholds probs and counts them against labels. A
// probability at or above threshold predicts the positive class.
func NewConfusion(labels, probs []float64, threshold float64) (Confusion, error) {
	var c Confusion
	if len(labels) != len(probs) {
		return c, errors.Errorf("confusion: %d labels for %d predictions", len(labels), len(probs))
	}
	for i, p := range probs {
		switch pred, actual := p >= threshold, labels[i] == 1; {
		case pred && actual:
			c.TP++
		case pred:
			c.FP++
		case actual:
			c.FN++
		default:
			c.TN++
		}
	}
	return c, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Total is the number of counted predictions.
func (c Confusion) Total() int { return c.TP + c.FP + c.TN + c.FN }

func (c Confusion) Accuracy() float64  { return ratio(c.TP+c.TN, c.Total()) }
func (c Confusion) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }
func (c Confusion) Recall() float64    { return ratio(c.TP, c.TP+c.FN) }

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (c Confusion) String() string {
	return fmt.Sprintf("tp=%d fp=%d tn=%d fn=%d precision=%.4f recall=%.4f f1=%.4f",
		c.TP, c.FP, c.TN, c.FN, c.Precision(), c.Recall(), c.F1())
}
