// Package registry records finished training runs in a bbolt database so
// results of separate runs and folds can be compared later.
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
	"go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// Entry is one finished training run of one fold.
type Entry struct {
	ModelName      string    `msgpack:"model_name"`
	Arch           string    `msgpack:"arch"`
	Fold           string    `msgpack:"fold"`
	Balanced       bool      `msgpack:"balanced"`
	Epochs         int       `msgpack:"epochs"`
	BestScore      float64   `msgpack:"best_score"`
	BestScoreEpoch int       `msgpack:"best_score_epoch"`
	BestLoss       float64   `msgpack:"best_loss"`
	BestLossEpoch  int       `msgpack:"best_loss_epoch"`
	Checkpoint     string    `msgpack:"checkpoint"`
	FinishedAt     time.Time `msgpack:"finished_at"`
}

// Key identifies the run slot an entry occupies. A later run of the same
// model, fold and balancing replaces the earlier one.
func (e Entry) Key() string {
	return e.ModelName + "/" + e.Fold + "/" + strconv.FormatBool(e.Balanced)
}

// Registry is an open run database.
type Registry struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create registry directory")
	}
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open registry %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create runs bucket")
	}
	return &Registry{db: db}, nil
}

// Close releases the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record stores e under its key.
func (r *Registry) Record(e Entry) error {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode run")
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(e.Key()), b)
	})
}

// Get returns the entry stored under key.
func (r *Registry) Get(key string) (Entry, bool, error) {
	var e Entry
	var found bool
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Get([]byte(key))
		if b == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(b, &e)
	})
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "read run %s", key)
	}
	return e, found, nil
}

// List returns every entry, ordered by key. A non-empty modelName keeps
// only that model's runs.
func (r *Registry) List(modelName string) ([]Entry, error) {
	var out []Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return errors.Wrapf(err, "decode run %s", k)
			}
			if modelName == "" || e.ModelName == modelName {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// Best returns the entry of modelName with the highest ROC-AUC.
func (r *Registry) Best(modelName string) (Entry, bool, error) {
	entries, err := r.List(modelName)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].BestScore > entries[j].BestScore })
	return entries[0], true, nil
}
