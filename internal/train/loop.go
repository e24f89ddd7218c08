package train

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/FlavioCFOliveira/besnet/internal/config"
	"github.com/FlavioCFOliveira/besnet/internal/data"
	"github.com/FlavioCFOliveira/besnet/internal/logging"
	"github.com/FlavioCFOliveira/besnet/internal/loss"
	"github.com/FlavioCFOliveira/besnet/internal/metrics"
	"github.com/FlavioCFOliveira/besnet/internal/model"
	"github.com/FlavioCFOliveira/besnet/internal/net"
	"github.com/FlavioCFOliveira/besnet/internal/opt"
)

// NoFold labels runs that do not use k-fold cross-validation.
const NoFold = "all"

// ErrFoldRequired is returned when k-fold training is requested without a
// fold index.
var ErrFoldRequired = errors.New("k-fold cross validation requires a fold index")

// Scheduler settings applied to the validation loss.
const (
	plateauFactor   = 0.5
	plateauPatience = 2
	plateauEps      = 1e-6
)

// LoopOptions adjusts a Loop call.
type LoopOptions struct {
	// Describe logs the model summary before training. It is ignored for
	// folds after the first.
	Describe  bool
	Callbacks []Callback
}

// Result is the outcome of a training loop.
type Result struct {
	Fold           string
	BestScore      float64
	BestScoreEpoch int
	BestLoss       float64
	BestLossEpoch  int

	// Checkpoint is the best ROC-AUC checkpoint, empty if none was saved.
	Checkpoint string

	// EarlyStopped is set when training ended before cfg.Epochs.
	EarlyStopped bool
	History      []EpochStats
	Model        *net.Sequential
}

// Loop trains the configured architecture on split and keeps the model with
// the best validation ROC-AUC.
func Loop(ctx context.Context, cfg *config.Config, split data.Split, logger log.FieldLogger, lo LoopOptions) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	entry := logging.Component(logger, "train")

	fold := cfg.Fold
	if cfg.KFold && fold == nil {
		return nil, errors.Wrapf(ErrFoldRequired, "fold index in range [0, %d) is not specified", cfg.Folds)
	}
	if !cfg.KFold && fold != nil {
		entry.Infof("K-fold is set to %v but fold index is passed! Proceeding without using K-fold.", cfg.KFold)
		fold = nil
	}

	foldLabel := NoFold
	if fold != nil {
		foldLabel = strconv.Itoa(*fold)
		var err error
		if split, err = split.Fold(cfg.Folds, *fold); err != nil {
			return nil, err
		}
		if *fold >= 1 {
			lo.Describe = false
		}
	}
	entry = entry.WithField("fold", foldLabel)
	entry.Info(strings.Repeat("-", 30))
	entry.Infof("       Training fold: %s       ", foldLabel)
	entry.Info(strings.Repeat("-", 30))

	trainDS, err := data.NewWindowed(split.Train, cfg.SignalWindowSize, cfg.LabelLookAhead)
	if err != nil {
		return nil, errors.Wrap(err, "train data")
	}
	validDS, err := data.NewWindowed(split.Valid, cfg.SignalWindowSize, cfg.LabelLookAhead)
	if err != nil {
		return nil, errors.Wrap(err, "validation data")
	}
	if cfg.BalanceClasses {
		before := trainDS.Len()
		trainDS.Balance(rand.New(rand.NewSource(cfg.Seed)))
		entry.Infof("Balanced training windows: %d -> %d (%d positive)", before, trainDS.Len(), trainDS.Positives())
	}
	entry.Infof("Training windows: %d (%d positive), validation windows: %d (%d positive)",
		trainDS.Len(), trainDS.Positives(), validDS.Len(), validDS.Positives())

	trainLoader, err := data.NewLoader(trainDS, data.LoaderConfig{
		BatchSize: cfg.BatchSize, Shuffle: true, DropLast: true, Workers: cfg.NumWorkers, Seed: cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	validLoader, err := data.NewLoader(validDS, data.LoaderConfig{
		BatchSize: cfg.BatchSize, DropLast: true, Workers: cfg.NumWorkers,
	})
	if err != nil {
		return nil, err
	}
	if trainLoader.NumBatches() == 0 || validLoader.NumBatches() == 0 {
		return nil, errors.Errorf("batch size %d leaves %d training and %d validation batches",
			cfg.BatchSize, trainLoader.NumBatches(), validLoader.NumBatches())
	}

	opts := cfg.ModelOptions()
	m, err := model.Build(cfg.Arch, opts)
	if err != nil {
		return nil, err
	}
	if lo.Describe {
		logSummary(entry, m)
	}

	optimizer := opt.NewAdam(cfg.LearningRate, cfg.WeightDecay)
	scheduler := opt.NewReduceLROnPlateau(optimizer, plateauFactor, plateauPatience, plateauEps)
	var criterion loss.Loss = loss.NewBCEWithLogits(cfg.PosWeight)
	if opts.UseSigmoid {
		criterion = loss.BCE{PosWeight: cfg.PosWeight}
	}

	engine, err := NewEngine(m, criterion, optimizer, EngineConfig{
		Workers:         max(cfg.NumWorkers, 1),
		Probabilities:   opts.UseSigmoid,
		TrainPrintEvery: cfg.TrainPrintEvery,
		ValidPrintEvery: cfg.ValidPrintEvery,
	}, logger.WithField("fold", foldLabel))
	if err != nil {
		return nil, err
	}

	best, err := NewModelCheckpoint(cfg.ModelDir, MonitorROC)
	if err != nil {
		return nil, err
	}
	callbacks := []Callback{best}
	if cfg.SaveBestLoss {
		c, err := NewModelCheckpoint(cfg.ModelDir, MonitorLoss)
		if err != nil {
			return nil, err
		}
		callbacks = append(callbacks, c)
	}
	if cfg.EarlyStoppingPatience > 0 {
		callbacks = append(callbacks, NewEarlyStopping(cfg.EarlyStoppingPatience, 0))
	}
	if cfg.HistoryFile != "" {
		callbacks = append(callbacks, NewCSVLogger(cfg.HistoryFile, fold != nil && *fold > 0))
	}
	callbacks = append(callbacks, lo.Callbacks...)

	run := &Run{
		ModelName: cfg.ModelName,
		Arch:      cfg.Arch,
		Options:   opts,
		Fold:      foldLabel,
		Balanced:  cfg.BalanceClasses,
		Model:     m,
		Log:       entry,
	}
	res := &Result{Fold: foldLabel, BestLoss: math.Inf(1), Model: m}

	for _, c := range callbacks {
		if err := c.OnTrainBegin(run); err != nil {
			return nil, err
		}
	}
	err = runEpochs(ctx, cfg, run, engine, scheduler, trainLoader, validLoader, callbacks, res)
	for _, c := range callbacks {
		if endErr := c.OnTrainEnd(run); endErr != nil && err == nil {
			err = endErr
		}
	}
	if err != nil {
		return nil, err
	}
	res.Checkpoint = best.Path
	return res, nil
}

func runEpochs(ctx context.Context, cfg *config.Config, run *Run, engine *Engine, scheduler *opt.ReduceLROnPlateau,
	trainLoader, validLoader *data.Loader, callbacks []Callback, res *Result) error {
	entry := run.Log
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		start := time.Now()

		trainLoss, err := engine.TrainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			return err
		}
		ev, err := engine.Evaluate(ctx, validLoader)
		if err != nil {
			return err
		}
		if scheduler.Step(ev.Loss) {
			entry.Infof("Epoch: %d, \treducing learning rate to %.4e", epoch+1, scheduler.LR())
		}

		score, err := metrics.ROCAUC(ev.Labels, ev.Preds)
		if err != nil {
			if !errors.Is(err, metrics.ErrOneClass) {
				return err
			}
			entry.Warnf("Epoch: %d, \tROC-AUC undefined: %v", epoch+1, err)
			score = math.NaN()
		}
		conf, err := metrics.NewConfusion(ev.Labels, ev.Preds, cfg.Threshold)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		entry.Infof("Epoch: %d, \tavg train loss: %.4f, \tavg validation loss: %.4f", epoch+1, trainLoss, ev.Loss)
		entry.Infof("Epoch: %d, \tROC-AUC score: %.4f, \ttime elapsed: %s", epoch+1, score, elapsed)
		entry.Debugf("Epoch: %d, \t%s", epoch+1, conf)

		stats := EpochStats{
			Epoch:     epoch + 1,
			TrainLoss: trainLoss,
			ValidLoss: ev.Loss,
			ROCAUC:    score,
			LR:        scheduler.LR(),
			Elapsed:   elapsed,
			Confusion: conf,
			Preds:     ev.Preds,
		}
		if score > res.BestScore {
			res.BestScore, res.BestScoreEpoch = score, stats.Epoch
			entry.Infof("Epoch: %d, \tSave Best Score: %.4f Model", stats.Epoch, score)
		}
		if ev.Loss < res.BestLoss {
			res.BestLoss, res.BestLossEpoch = ev.Loss, stats.Epoch
			entry.Infof("Epoch: %d, \tBest Loss: %.4f", stats.Epoch, ev.Loss)
		}

		for _, c := range callbacks {
			if err := c.OnEpochEnd(run, &stats); err != nil {
				return err
			}
		}
		stats.Preds = nil
		res.History = append(res.History, stats)

		if run.Stop {
			res.EarlyStopped = epoch+1 < cfg.Epochs
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func logSummary(entry *log.Entry, m *net.Sequential) {
	var buf bytes.Buffer
	m.Summary(&buf)
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		entry.Info(scanner.Text())
	}
}

// Score evaluates a trained model on events using the run's windowing and
// returns the evaluation with its ROC-AUC. Every window is scored.
func Score(ctx context.Context, cfg *config.Config, m *net.Sequential, useSigmoid bool, events []*data.Event, logger log.FieldLogger) (*Evaluation, float64, error) {
	ds, err := data.NewWindowed(events, cfg.SignalWindowSize, cfg.LabelLookAhead)
	if err != nil {
		return nil, 0, err
	}
	loader, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: cfg.BatchSize, Workers: cfg.NumWorkers})
	if err != nil {
		return nil, 0, err
	}

	var criterion loss.Loss = loss.NewBCEWithLogits(cfg.PosWeight)
	if useSigmoid {
		criterion = loss.BCE{PosWeight: cfg.PosWeight}
	}
	engine, err := NewEngine(m, criterion, nil, EngineConfig{
		Workers:         max(cfg.NumWorkers, 1),
		Probabilities:   useSigmoid,
		ValidPrintEvery: cfg.ValidPrintEvery,
	}, logger)
	if err != nil {
		return nil, 0, err
	}
	ev, err := engine.Evaluate(ctx, loader)
	if err != nil {
		return nil, 0, err
	}
	score, err := metrics.ROCAUC(ev.Labels, ev.Preds)
	if err != nil {
		return ev, 0, err
	}
	return ev, score, nil
}
