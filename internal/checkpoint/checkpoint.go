// Package checkpoint stores trained model parameters together with the
// options needed to rebuild the architecture.
package checkpoint

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/FlavioCFOliveira/besnet/internal/model"
	"github.com/FlavioCFOliveira/besnet/internal/net"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Checkpoint is a saved model state. Preds holds the validation
// predictions of the epoch that produced it.
type Checkpoint struct {
	ModelName string        `msgpack:"model_name" json:"model_name"`
	Arch      string        `msgpack:"arch" json:"arch"`
	Options   model.Options `msgpack:"options" json:"options"`
	Fold      string        `msgpack:"fold" json:"fold"`
	Epoch     int           `msgpack:"epoch" json:"epoch"`
	Score     float64       `msgpack:"score" json:"score"`
	Loss      float64       `msgpack:"loss" json:"loss"`
	Params    [][]float64   `msgpack:"params" json:"-"`
	Preds     []float64     `msgpack:"preds" json:"-"`
	SavedAt   time.Time     `msgpack:"saved_at" json:"saved_at"`
}

// Summary is the JSON sidecar written next to a checkpoint. Score and Loss
// shadow the embedded fields and are nil when not finite, since JSON has no
// NaN.
type Summary struct {
	Checkpoint
	Score     *float64 `json:"score"`
	Loss      *float64 `json:"loss"`
	NumParams int      `json:"num_params"`
	NumPreds  int      `json:"num_preds"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// New captures the parameters of m.
func New(name, arch string, opts model.Options, m *net.Sequential) *Checkpoint {
	return &Checkpoint{
		ModelName: name,
		Arch:      arch,
		Options:   opts,
		Params:    m.Params(),
		SavedAt:   time.Now(),
	}
}

// Filename is the checkpoint name for a best-metric model, for example
// feature_model_fold0_best_roc_unbalanced.ckpt.
func Filename(modelName, fold, metric string, balanced bool) string {
	b := "unbalanced"
	if balanced {
		b = "balanced"
	}
	return modelName + "_fold" + fold + "_best_" + metric + "_" + b + ".ckpt"
}

// SidecarPath returns the path of the JSON summary for a checkpoint file.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}

// Save writes c to path, replacing any previous file atomically, and
// writes the JSON summary next to it. Nothing is written unless both
// encode.
func Save(path string, c *Checkpoint) error {
	data, err := msgpack.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}

	n := 0
	for _, p := range c.Params {
		n += len(p)
	}
	meta, err := json.MarshalIndent(Summary{
		Checkpoint: *c,
		Score:      finite(c.Score),
		Loss:       finite(c.Loss),
		NumParams:  n,
		NumPreds:   len(c.Preds),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checkpoint summary")
	}

	if err := writeAtomic(SidecarPath(path), append(meta, '\n')); err != nil {
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		os.Remove(SidecarPath(path))
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	var c Checkpoint
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	return &c, nil
}

// LoadSummary reads the JSON sidecar of a checkpoint.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint summary")
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint summary")
	}
	return &s, nil
}

// Restore rebuilds the architecture recorded in c and loads its parameters.
func Restore(c *Checkpoint) (*net.Sequential, error) {
	m, err := model.Build(c.Arch, c.Options)
	if err != nil {
		return nil, errors.Wrap(err, "restore")
	}
	if err := m.SetParams(c.Params); err != nil {
		return nil, errors.Wrapf(err, "restore %s", c.ModelName)
	}
	m.SetTraining(false)
	return m, nil
}
