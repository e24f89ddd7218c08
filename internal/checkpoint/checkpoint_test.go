package checkpoint

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/FlavioCFOliveira/besnet/internal/model"
)

func buildModel(t *testing.T, arch string, seed int64) (model.Options, *Checkpoint) {
	t.Helper()
	opts, err := model.Defaults(arch)
	if err != nil {
		t.Fatal(err)
	}
	opts.Seed = seed
	m, err := model.Build(arch, opts)
	if err != nil {
		t.Fatal(err)
	}
	return opts, New("test_model", arch, opts, m)
}

func TestSaveLoadRestore(t *testing.T) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	opts, c := buildModel(t, model.DensePoolName, 5)
	c.Fold, c.Epoch, c.Score, c.Loss = "0", 3, 0.91, 0.27
	c.Preds = []float64{0.1, 0.9, 0.4}

	path := filepath.Join(dir, "nested", Filename("test_model", "0", "roc", false))
	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.SavedAt.Equal(c.SavedAt) {
		t.Errorf("SavedAt = %v, want %v", got.SavedAt, c.SavedAt)
	}
	got.SavedAt = c.SavedAt
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("loaded checkpoint (-want +got):\n%s", diff)
	}

	m, err := Restore(got)
	if err != nil {
		t.Fatal(err)
	}
	orig, _ := model.Build(model.DensePoolName, opts)
	x := make([]float64, orig.InShape().Size())
	for i := range x {
		x[i] = float64(i%7) / 7
	}
	orig.SetTraining(false)
	if diff := cmp.Diff(orig.Predict(x), m.Predict(x)); diff != "" {
		t.Errorf("restored prediction (-want +got):\n%s", diff)
	}
}

func TestSidecar(t *testing.T) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	_, c := buildModel(t, model.CNNName, 1)
	c.Preds = make([]float64, 12)
	path := filepath.Join(dir, "m.ckpt")
	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSummary(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.NumParams != 6589 || s.NumPreds != 12 {
		t.Errorf("summary counts params=%d preds=%d, want 6589 and 12", s.NumParams, s.NumPreds)
	}
	if s.Params != nil || s.Arch != model.CNNName {
		t.Errorf("summary arch=%q params=%v, want cnn and no params", s.Arch, s.Params)
	}

	files, _ := os.ReadDir(dir)
	if len(files) != 2 {
		t.Errorf("directory holds %d files, want checkpoint and sidecar only", len(files))
	}
}

func TestSaveNonFiniteScore(t *testing.T) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	_, c := buildModel(t, model.DensePoolName, 2)
	c.Score, c.Loss = math.NaN(), 0.4
	path := filepath.Join(dir, "m.ckpt")
	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSummary(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Score != nil {
		t.Errorf("summary score = %v, want null", *s.Score)
	}
	if s.Loss == nil || *s.Loss != 0.4 {
		t.Errorf("summary loss = %v, want 0.4", s.Loss)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(got.Score) {
		t.Errorf("checkpoint score = %v, want NaN", got.Score)
	}
}

func TestSaveFailureLeavesNoSidecar(t *testing.T) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	_, c := buildModel(t, model.DensePoolName, 2)
	// A directory in the checkpoint's place makes the final rename fail.
	path := filepath.Join(dir, "m.ckpt")
	if err := os.MkdirAll(filepath.Join(path, "x"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := Save(path, c); err == nil {
		t.Fatal("expected error saving over a directory")
	}
	if _, err := os.Stat(SidecarPath(path)); !os.IsNotExist(err) {
		t.Errorf("sidecar left behind: %v", err)
	}
}

func TestRestoreMismatch(t *testing.T) {
	_, c := buildModel(t, model.CNNName, 1)
	c.Arch = model.DensePoolName
	if _, err := Restore(c); err == nil {
		t.Error("expected error restoring parameters into another architecture")
	}

	c.Arch = "nope"
	if _, err := Restore(c); err == nil {
		t.Error("expected error for unknown architecture")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(os.TempDir(), "does-not-exist.ckpt")); err == nil {
		t.Error("expected error for missing file")
	}

	f, err := os.CreateTemp("", "bad*.ckpt")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.WriteString("not msgpack")
	f.Close()
	if _, err := Load(f.Name()); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("feature_model", "2", "roc", true); got != "feature_model_fold2_best_roc_balanced.ckpt" {
		t.Errorf("Filename() = %q", got)
	}
	if got := SidecarPath("/a/b.ckpt"); got != "/a/b.json" {
		t.Errorf("SidecarPath() = %q", got)
	}
}
