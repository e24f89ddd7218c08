package train

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/FlavioCFOliveira/besnet/internal/checkpoint"
	"github.com/FlavioCFOliveira/besnet/internal/metrics"
	"github.com/FlavioCFOliveira/besnet/internal/model"
	"github.com/FlavioCFOliveira/besnet/internal/net"
)

// Run is the training state visible to callbacks.
type Run struct {
	ModelName string
	Arch      string
	Options   model.Options
	Fold      string
	Balanced  bool
	Model     *net.Sequential
	Log       *log.Entry

	// Stop ends training after the current epoch.
	Stop bool
}

// EpochStats summarizes one epoch. Epoch is one-based.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValidLoss float64
	ROCAUC    float64 // NaN when the validation labels hold one class
	LR        float64
	Elapsed   time.Duration
	Confusion metrics.Confusion

	// Preds are the validation predictions; they are not kept in the
	// run history.
	Preds []float64
}

// Callback hooks into Loop. A returned error aborts training.
type Callback interface {
	OnTrainBegin(r *Run) error
	OnEpochEnd(r *Run, s *EpochStats) error
	OnTrainEnd(r *Run) error
}

// BaseCallback provides no-op implementations for Callback.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin(r *Run) error              { return nil }
func (BaseCallback) OnEpochEnd(r *Run, s *EpochStats) error { return nil }
func (BaseCallback) OnTrainEnd(r *Run) error                { return nil }

// Metrics monitored by ModelCheckpoint.
const (
	MonitorROC  = "roc"
	MonitorLoss = "loss"
)

// ModelCheckpoint saves the model whenever the monitored metric strictly
// improves: a higher ROC-AUC or a lower validation loss.
type ModelCheckpoint struct {
	BaseCallback
	Dir     string
	Monitor string

	Best      float64
	BestEpoch int
	Path      string // last file written
}

// NewModelCheckpoint creates a checkpoint callback writing into dir.
func NewModelCheckpoint(dir, monitor string) (*ModelCheckpoint, error) {
	c := &ModelCheckpoint{Dir: dir, Monitor: monitor}
	switch monitor {
	case MonitorROC:
		c.Best = 0
	case MonitorLoss:
		c.Best = math.Inf(1)
	default:
		return nil, errors.Errorf("checkpoint: unknown monitor %q", monitor)
	}
	return c, nil
}

func (c *ModelCheckpoint) improved(s *EpochStats) (float64, bool) {
	if c.Monitor == MonitorROC {
		return s.ROCAUC, s.ROCAUC > c.Best
	}
	return s.ValidLoss, s.ValidLoss < c.Best
}

func (c *ModelCheckpoint) OnEpochEnd(r *Run, s *EpochStats) error {
	v, ok := c.improved(s)
	if !ok {
		return nil
	}
	c.Best, c.BestEpoch = v, s.Epoch

	ckpt := checkpoint.New(r.ModelName, r.Arch, r.Options, r.Model)
	ckpt.Fold = r.Fold
	ckpt.Epoch = s.Epoch
	ckpt.Score = s.ROCAUC
	ckpt.Loss = s.ValidLoss
	ckpt.Preds = append([]float64(nil), s.Preds...)

	path := filepath.Join(c.Dir, checkpoint.Filename(r.ModelName, r.Fold, c.Monitor, r.Balanced))
	if err := checkpoint.Save(path, ckpt); err != nil {
		return errors.Wrapf(err, "save best %s model", c.Monitor)
	}
	c.Path = path
	r.Log.WithField("path", path).Infof("Epoch: %d, \tSaved best %s model", s.Epoch, c.Monitor)
	return nil
}

// EarlyStopping stops training once the validation loss has not improved
// by more than MinDelta for Patience epochs.
type EarlyStopping struct {
	BaseCallback
	Patience int
	MinDelta float64

	best      float64
	badEpochs int
	StoppedAt int
}

// NewEarlyStopping creates an early stopping callback.
func NewEarlyStopping(patience int, minDelta float64) *EarlyStopping {
	return &EarlyStopping{Patience: patience, MinDelta: minDelta, best: math.Inf(1)}
}

func (c *EarlyStopping) OnEpochEnd(r *Run, s *EpochStats) error {
	if s.ValidLoss < c.best-c.MinDelta {
		c.best = s.ValidLoss
		c.badEpochs = 0
		return nil
	}
	c.badEpochs++
	if c.badEpochs >= c.Patience {
		c.StoppedAt = s.Epoch
		r.Stop = true
		r.Log.Infof("Early stopping at epoch %d: validation loss %.4f did not improve for %d epochs",
			s.Epoch, s.ValidLoss, c.Patience)
	}
	return nil
}

// CSVLogger writes one row per epoch to Filename.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
}

// NewCSVLogger creates a CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{Filename: filename, Append: append}
}

var historyHeader = []string{"fold", "epoch", "train_loss", "valid_loss", "roc_auc", "lr", "seconds"}

func (c *CSVLogger) OnTrainBegin(r *Run) error {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}
	if err := os.MkdirAll(filepath.Dir(c.Filename), 0755); err != nil {
		return errors.Wrap(err, "create history directory")
	}
	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		return errors.Wrap(err, "open history file")
	}
	c.file = file
	c.writer = csv.NewWriter(file)

	// Header goes into new or truncated files only.
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		if err := c.writer.Write(historyHeader); err != nil {
			return errors.Wrap(err, "write history header")
		}
	}
	c.writer.Flush()
	return errors.Wrap(c.writer.Error(), "write history header")
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

func (c *CSVLogger) OnEpochEnd(r *Run, s *EpochStats) error {
	if c.writer == nil {
		return nil
	}
	record := []string{
		r.Fold,
		strconv.Itoa(s.Epoch),
		formatFloat(s.TrainLoss),
		formatFloat(s.ValidLoss),
		formatFloat(s.ROCAUC),
		formatFloat(s.LR),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 2, 64),
	}
	if err := c.writer.Write(record); err != nil {
		return errors.Wrap(err, "write history record")
	}
	c.writer.Flush()
	return errors.Wrap(c.writer.Error(), "write history record")
}

func (c *CSVLogger) OnTrainEnd(r *Run) error {
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	err := c.file.Close()
	c.file, c.writer = nil, nil
	return errors.Wrap(err, "close history file")
}
