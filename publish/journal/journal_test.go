package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/counterdeploy/publish/batch"
	"github.com/cosmo-local-credit/counterdeploy/publish/solc"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestJournal_RecordAndRead(t *testing.T) {
	j, _ := openTestJournal(t)

	started := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.BeginRun(Run{ID: "run-1", Contract: "Counter", Requested: 3, StartedAt: started}))

	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	require.NoError(t, j.Record("run-1", batch.Attempt{Index: 1, Status: batch.StatusFailed, Error: "deploy: nonce too low"}))
	require.NoError(t, j.Record("run-1", batch.Attempt{Index: 0, Status: batch.StatusSucceeded, Address: addr, TxHash: common.HexToHash("0x01")}))

	run, err := j.Run("run-1")
	require.NoError(t, err)
	assert.Equal(t, "Counter", run.Contract)
	assert.Equal(t, 3, run.Requested)
	assert.True(t, started.Equal(run.StartedAt))

	attempts, err := j.Attempts("run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 0, attempts[0].Index)
	assert.Equal(t, addr, attempts[0].Address)
	assert.Equal(t, batch.StatusSucceeded, attempts[0].Status)
	assert.Equal(t, 1, attempts[1].Index)
	assert.Equal(t, "deploy: nonce too low", attempts[1].Error)
}

func TestJournal_UnknownRun(t *testing.T) {
	j, _ := openTestJournal(t)

	err := j.Record("missing", batch.Attempt{})
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = j.Attempts("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = j.Run("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestJournal_RunsOrderedAndPersisted(t *testing.T) {
	j, path := openTestJournal(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.BeginRun(Run{ID: "b", StartedAt: base.Add(time.Hour)}))
	require.NoError(t, j.BeginRun(Run{ID: "a", StartedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, j.BeginRun(Run{ID: "c", StartedAt: base}))
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
}

func TestReporter(t *testing.T) {
	j, _ := openTestJournal(t)
	logger, hook := logtest.NewNullLogger()
	r := j.Reporter(logger)

	r.Compiled(batch.Summary{RunID: "run-9", Contract: "Counter", Requested: 2}, solc.Artifact{Bytecode: []byte{1, 2, 3}})
	r.AttemptStarted(0, 2)
	r.AttemptFinished(batch.Attempt{Index: 0, Status: batch.StatusSucceeded})
	r.AttemptFinished(batch.Attempt{Index: 1, Status: batch.StatusFailed, Error: "boom"})
	r.Finished(batch.Summary{})

	assert.Empty(t, hook.AllEntries())

	run, err := j.Run("run-9")
	require.NoError(t, err)
	assert.Equal(t, 3, run.BytecodeSize)

	attempts, err := j.Attempts("run-9")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestReporter_LogsStorageErrors(t *testing.T) {
	j, _ := openTestJournal(t)
	logger, hook := logtest.NewNullLogger()
	r := j.Reporter(logger)

	// No Compiled call, so the run header does not exist.
	r.AttemptFinished(batch.Attempt{Index: 0})

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "journal: record attempt", hook.LastEntry().Message)
}

var _ batch.Reporter = (*Reporter)(nil)
