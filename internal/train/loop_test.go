package train

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/besnet/internal/checkpoint"
	"github.com/FlavioCFOliveira/besnet/internal/config"
	"github.com/FlavioCFOliveira/besnet/internal/data"
	"github.com/FlavioCFOliveira/besnet/internal/logging"
)

func smallRun(t *testing.T) (*config.Config, data.Split) {
	t.Helper()
	cfg := config.Default()
	cfg.ModelDir = t.TempDir()
	cfg.SignalWindowSize = 4
	cfg.BatchSize = 8
	cfg.NumWorkers = 2
	cfg.Epochs = 3
	cfg.LearningRate = 1e-3
	cfg.ValidFraction = 0.2
	cfg.TrainPrintEvery = 0
	cfg.ValidPrintEvery = 0
	cfg.LogFile = ""

	events, err := data.Synthetic(data.SynthConfig{Events: 12, Length: 40, Noise: 0.1, Growth: 0.05, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	split, err := data.SplitEvents(events, data.SplitConfig{
		ValidFraction: cfg.ValidFraction, TestFraction: cfg.TestFraction, Shuffle: true, Seed: cfg.Seed,
	})
	if err != nil {
		t.Fatal(err)
	}
	return cfg, split
}

func TestLoopSavesBestROC(t *testing.T) {
	cfg, split := smallRun(t)
	res, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{Describe: true})
	if err != nil {
		t.Fatal(err)
	}

	if res.Fold != NoFold || len(res.History) != 3 || res.EarlyStopped {
		t.Fatalf("fold=%q epochs=%d early=%v", res.Fold, len(res.History), res.EarlyStopped)
	}
	if res.BestScore < 0.8 {
		t.Errorf("best ROC-AUC %v on separable synthetic data", res.BestScore)
	}

	want := filepath.Join(cfg.ModelDir, "feature_model_foldall_best_roc_unbalanced.ckpt")
	if res.Checkpoint != want {
		t.Fatalf("Checkpoint = %q, want %q", res.Checkpoint, want)
	}
	ckpt, err := checkpoint.Load(want)
	if err != nil {
		t.Fatal(err)
	}
	if ckpt.Score != res.BestScore || ckpt.Epoch != res.BestScoreEpoch {
		t.Errorf("checkpoint score %v epoch %d, result %v epoch %d", ckpt.Score, ckpt.Epoch, res.BestScore, res.BestScoreEpoch)
	}
	// Validation drops the last partial batch.
	if len(ckpt.Preds)%cfg.BatchSize != 0 || len(ckpt.Preds) == 0 {
		t.Errorf("checkpoint holds %d predictions", len(ckpt.Preds))
	}
	if _, err := checkpoint.Restore(ckpt); err != nil {
		t.Error(err)
	}

	for _, s := range res.History {
		if s.Preds != nil {
			t.Error("history keeps validation predictions")
		}
	}
}

func TestLoopKFoldRequiresFold(t *testing.T) {
	cfg, split := smallRun(t)
	cfg.KFold = true
	_, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{})
	if !errors.Is(err, ErrFoldRequired) {
		t.Errorf("err = %v, want ErrFoldRequired", err)
	}
}

func TestLoopIgnoresFoldWithoutKFold(t *testing.T) {
	cfg, split := smallRun(t)
	cfg.Epochs = 1
	fold := 1
	cfg.Fold = &fold
	res, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fold != NoFold {
		t.Errorf("Fold = %q, want %q", res.Fold, NoFold)
	}
}

func TestLoopKFoldBalanced(t *testing.T) {
	cfg, split := smallRun(t)
	cfg.Epochs = 2
	cfg.KFold = true
	cfg.Folds = 3
	cfg.BalanceClasses = true
	cfg.SaveBestLoss = true
	cfg.HistoryFile = filepath.Join(cfg.ModelDir, "history.csv")
	fold := 1
	cfg.Fold = &fold

	res, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fold != "1" {
		t.Errorf("Fold = %q", res.Fold)
	}
	if filepath.Base(res.Checkpoint) != "feature_model_fold1_best_roc_balanced.ckpt" {
		t.Errorf("Checkpoint = %q", res.Checkpoint)
	}
	if _, err := checkpoint.Load(filepath.Join(cfg.ModelDir, "feature_model_fold1_best_loss_balanced.ckpt")); err != nil {
		t.Errorf("best loss checkpoint: %v", err)
	}
	if rows := readCSV(t, cfg.HistoryFile); len(rows) != 3 {
		t.Errorf("history has %d rows, want header and 2 epochs", len(rows))
	}
}

func TestLoopOneClassValidation(t *testing.T) {
	for _, saveLoss := range []bool{false, true} {
		cfg, split := smallRun(t)
		cfg.Epochs = 2
		cfg.SaveBestLoss = saveLoss
		cfg.HistoryFile = filepath.Join(cfg.ModelDir, "history.csv")
		for _, e := range split.Valid {
			for i := range e.Labels {
				e.Labels[i] = 0
			}
		}

		res, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{})
		if err != nil {
			t.Fatalf("save loss %v: %v", saveLoss, err)
		}
		if len(res.History) != 2 || res.BestScore != 0 || res.BestScoreEpoch != 0 {
			t.Errorf("save loss %v: epochs=%d best=%v at %d", saveLoss, len(res.History), res.BestScore, res.BestScoreEpoch)
		}
		for _, s := range res.History {
			if !math.IsNaN(s.ROCAUC) {
				t.Errorf("epoch %d ROC-AUC = %v, want NaN", s.Epoch, s.ROCAUC)
			}
		}
		if res.Checkpoint != "" {
			t.Errorf("Checkpoint = %q, want none", res.Checkpoint)
		}
		if _, err := os.Stat(filepath.Join(cfg.ModelDir, "feature_model_foldall_best_roc_unbalanced.ckpt")); !os.IsNotExist(err) {
			t.Errorf("ROC checkpoint written: %v", err)
		}

		rows := readCSV(t, cfg.HistoryFile)
		if len(rows) != 3 || rows[1][4] != "NaN" {
			t.Errorf("history rows %v", rows)
		}

		lossPath := filepath.Join(cfg.ModelDir, "feature_model_foldall_best_loss_unbalanced.ckpt")
		if !saveLoss {
			continue
		}
		ckpt, err := checkpoint.Load(lossPath)
		if err != nil {
			t.Fatal(err)
		}
		if !math.IsNaN(ckpt.Score) || ckpt.Epoch != res.BestLossEpoch {
			t.Errorf("loss checkpoint score %v epoch %d", ckpt.Score, ckpt.Epoch)
		}
		s, err := checkpoint.LoadSummary(lossPath)
		if err != nil {
			t.Fatal(err)
		}
		if s.Score != nil || s.Loss == nil {
			t.Errorf("summary score %v loss %v, want null score", s.Score, s.Loss)
		}
	}
}

type stopAfter struct {
	BaseCallback
	epoch int
}

func (s stopAfter) OnEpochEnd(r *Run, st *EpochStats) error {
	if st.Epoch >= s.epoch {
		r.Stop = true
	}
	return nil
}

func TestLoopCallbackStops(t *testing.T) {
	cfg, split := smallRun(t)
	cfg.Epochs = 5
	res, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{Callbacks: []Callback{stopAfter{epoch: 2}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.History) != 2 || !res.EarlyStopped {
		t.Errorf("ran %d epochs, early=%v; want 2 and true", len(res.History), res.EarlyStopped)
	}
}

func TestLoopCancelled(t *testing.T) {
	cfg, split := smallRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Loop(ctx, cfg, split, logging.Discard(), LoopOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoopBatchTooLarge(t *testing.T) {
	cfg, split := smallRun(t)
	cfg.BatchSize = 10000
	if _, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{}); err == nil {
		t.Error("expected error when no full batch fits")
	}
}

func TestScore(t *testing.T) {
	cfg, split := smallRun(t)
	cfg.Epochs = 2
	res, err := Loop(context.Background(), cfg, split, logging.Discard(), LoopOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ev, auc, err := Score(context.Background(), cfg, res.Model, false, split.Test, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ds, _ := data.NewWindowed(split.Test, cfg.SignalWindowSize, cfg.LabelLookAhead)
	if len(ev.Preds) != ds.Len() {
		t.Errorf("scored %d of %d windows", len(ev.Preds), ds.Len())
	}
	if auc <= 0 || auc > 1 {
		t.Errorf("auc = %v", auc)
	}
}
