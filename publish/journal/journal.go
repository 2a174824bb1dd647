// Package journal keeps a local record of deployment runs in a bbolt file.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/cosmo-local-credit/counterdeploy/publish/batch"
	"github.com/cosmo-local-credit/counterdeploy/publish/solc"
)

var (
	runsBucket     = []byte("runs")
	attemptsBucket = []byte("attempts")
	metaKey        = []byte("meta")

	ErrRunNotFound = errors.New("run not found")
)

type Run struct {
	ID           string    `json:"id"`
	Contract     string    `json:"contract"`
	Requested    int       `json:"requested"`
	BytecodeSize int       `json:"bytecode_size"`
	StartedAt    time.Time `json:"started_at"`
}

type Journal struct {
	db *bbolt.DB
}

func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun stores the run header. Calling it again for the same id
// overwrites the header and keeps recorded attempts.
func (j *Journal) BeginRun(run Run) error {
	blob, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(runsBucket).CreateBucketIfNotExists([]byte(run.ID))
		if err != nil {
			return err
		}
		if _, err := b.CreateBucketIfNotExists(attemptsBucket); err != nil {
			return err
		}
		return b.Put(metaKey, blob)
	})
}

func (j *Journal) Record(runID string, a batch.Attempt) error {
	blob, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return b.Bucket(attemptsBucket).Put(attemptKey(a.Index), blob)
	})
}

func (j *Journal) Run(runID string) (Run, error) {
	var run Run
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return json.Unmarshal(b.Get(metaKey), &run)
	})
	return run, err
}

// Runs returns every recorded run, oldest first.
func (j *Journal) Runs() ([]Run, error) {
	var runs []Run
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEachBucket(func(k []byte) error {
			var run Run
			meta := tx.Bucket(runsBucket).Bucket(k).Get(metaKey)
			if meta == nil {
				return nil
			}
			if err := json.Unmarshal(meta, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(a, b int) bool { return runs[a].StartedAt.Before(runs[b].StartedAt) })
	return runs, nil
}

// Attempts returns the attempts recorded for runID in index order.
func (j *Journal) Attempts(runID string) ([]batch.Attempt, error) {
	var attempts []batch.Attempt
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return b.Bucket(attemptsBucket).ForEach(func(k, v []byte) error {
			var a batch.Attempt
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode attempt %d: %w", binary.BigEndian.Uint32(k), err)
			}
			attempts = append(attempts, a)
			return nil
		})
	})
	return attempts, err
}

func attemptKey(index int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(index))
	return k
}

// Reporter records a run as it happens. Storage errors are logged and do
// not interrupt the run.
type Reporter struct {
	j     *Journal
	log   logrus.FieldLogger
	runID string
	now   func() time.Time
}

func (j *Journal) Reporter(log logrus.FieldLogger) *Reporter {
	return &Reporter{j: j, log: log, now: time.Now}
}

func (r *Reporter) Compiled(run batch.Summary, artifact solc.Artifact) {
	r.runID = run.RunID
	err := r.j.BeginRun(Run{
		ID:           run.RunID,
		Contract:     run.Contract,
		Requested:    run.Requested,
		BytecodeSize: len(artifact.Bytecode),
		StartedAt:    r.now(),
	})
	if err != nil {
		r.log.WithError(err).WithField("run_id", run.RunID).Error("journal: begin run")
	}
}

func (r *Reporter) AttemptStarted(int, int) {}

func (r *Reporter) AttemptFinished(a batch.Attempt) {
	if err := r.j.Record(r.runID, a); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"run_id": r.runID, "attempt": a.Index + 1}).Error("journal: record attempt")
	}
}

func (r *Reporter) Finished(batch.Summary) {}
