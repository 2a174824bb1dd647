// Package batch deploys one compiled contract a requested number of times,
// strictly one transaction at a time, and collects the outcome of every
// attempt into a Summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cosmo-local-credit/counterdeploy/publish"
	"github.com/cosmo-local-credit/counterdeploy/publish/solc"
)

var (
	ErrInvalidCount = errors.New("invalid number of deployments")
	ErrCompile      = errors.New("contract compilation failed")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type (
	Attempt struct {
		Index       int            `json:"index"`
		Status      Status         `json:"status"`
		Address     common.Address `json:"address"`
		TxHash      common.Hash    `json:"tx_hash"`
		BlockNumber uint64         `json:"block_number,omitempty"`
		GasUsed     uint64         `json:"gas_used,omitempty"`
		Error       string         `json:"error,omitempty"`
		StartedAt   time.Time      `json:"started_at"`
		FinishedAt  time.Time      `json:"finished_at"`

		Err error `json:"-"`
	}

	Summary struct {
		RunID     string    `json:"run_id"`
		Contract  string    `json:"contract"`
		Requested int       `json:"requested"`
		Attempts  []Attempt `json:"attempts"`
	}
)

func (a Attempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}

func (s Summary) Succeeded() int {
	return s.count(StatusSucceeded)
}

func (s Summary) Failed() int {
	return s.count(StatusFailed)
}

func (s Summary) count(status Status) int {
	n := 0
	for _, a := range s.Attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

type (
	Compiler interface {
		Compile(ctx context.Context, src solc.Source) (solc.Artifact, error)
	}

	// Chain submits contract creations and waits for them to be mined.
	// *publish.Deployer implements it.
	Chain interface {
		Deploy(ctx context.Context, bytecode []byte) (publish.DeployResult, error)
		WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	}

	codeReader interface {
		CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	}
)

// Runner is the deployment loop. Build it with New.
type Runner struct {
	compiler       Compiler
	chain          Chain
	reporter       Reporter
	log            logrus.FieldLogger
	runID          string
	attemptTimeout time.Duration
	checkCode      bool
	verify         Verifier
	now            func() time.Time
}

// Verifier inspects a freshly deployed contract. A non-nil error fails the
// attempt.
type Verifier func(ctx context.Context, addr common.Address) error

// maxPrealloc bounds the attempts slice reserved up front. The count comes
// from the user and may be arbitrarily large.
const maxPrealloc = 1024

type Option func(*Runner)

func WithReporter(r Reporter) Option {
	return func(rn *Runner) { rn.reporter = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(rn *Runner) { rn.log = l }
}

func WithRunID(id string) Option {
	return func(rn *Runner) { rn.runID = id }
}

// WithAttemptTimeout bounds each submit-and-confirm cycle. Zero means no
// bound beyond the parent context.
func WithAttemptTimeout(d time.Duration) Option {
	return func(rn *Runner) { rn.attemptTimeout = d }
}

// WithCodeCheck makes an attempt succeed only if code is present at the new
// address once the receipt is in. The chain must implement CodeAt.
func WithCodeCheck(enabled bool) Option {
	return func(rn *Runner) { rn.checkCode = enabled }
}

// WithVerifier runs v against the contract address after the receipt (and
// the code check, when enabled) has passed.
func WithVerifier(v Verifier) Option {
	return func(rn *Runner) { rn.verify = v }
}

func New(compiler Compiler, chain Chain, opts ...Option) *Runner {
	r := &Runner{
		compiler: compiler,
		chain:    chain,
		reporter: NopReporter{},
		log:      logrus.StandardLogger(),
		runID:    uuid.NewString(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) RunID() string {
	return r.runID
}

// Run reads the number of deployments from counts, compiles src once and
// deploys the result that many times. An invalid count or a compilation
// failure is returned as an error before anything is broadcast. Individual
// deployment failures are recorded in the summary and never stop the loop;
// only cancellation of ctx does.
func (r *Runner) Run(ctx context.Context, counts CountSource, src solc.Source) (Summary, error) {
	n, err := counts.Count()
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		RunID:     r.runID,
		Contract:  src.ContractName,
		Requested: n,
		Attempts:  make([]Attempt, 0, min(n, maxPrealloc)),
	}
	log := r.log.WithFields(logrus.Fields{"run_id": r.runID, "contract": src.ContractName})

	artifact, err := r.compiler.Compile(ctx, src)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	log.WithField("bytecode_size", len(artifact.Bytecode)).Debug("contract compiled")
	r.reporter.Compiled(summary, artifact)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warnf("stopping after %d of %d deployments", i, n)
			break
		}

		r.reporter.AttemptStarted(i, n)
		a := r.attempt(ctx, i, artifact.Bytecode)
		summary.Attempts = append(summary.Attempts, a)

		entry := log.WithFields(logrus.Fields{"attempt": i + 1, "tx_hash": a.TxHash.Hex()})
		if a.Status == StatusFailed {
			entry.WithError(a.Err).Error("deployment failed")
		} else {
			entry.WithField("address", a.Address.Hex()).Info("contract deployed")
		}
		r.reporter.AttemptFinished(a)
	}

	r.reporter.Finished(summary)
	return summary, nil
}

func (r *Runner) attempt(ctx context.Context, index int, bytecode []byte) Attempt {
	a := Attempt{Index: index, Status: StatusPending, StartedAt: r.now()}

	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}

	fail := func(err error) Attempt {
		a.Status = StatusFailed
		a.Err = err
		a.Error = err.Error()
		a.FinishedAt = r.now()
		return a
	}

	res, err := r.chain.Deploy(ctx, bytecode)
	if err != nil {
		return fail(fmt.Errorf("deploy: %w", err))
	}
	a.TxHash = res.TxHash
	a.Address = res.ContractAddress

	receipt, err := r.chain.WaitForReceipt(ctx, res.TxHash)
	if err != nil {
		return fail(fmt.Errorf("wait for receipt: %w", err))
	}
	if receipt == nil {
		return fail(fmt.Errorf("wait for receipt: no receipt for %s", res.TxHash.Hex()))
	}
	if receipt.BlockNumber != nil {
		a.BlockNumber = receipt.BlockNumber.Uint64()
	}
	a.GasUsed = receipt.GasUsed
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(fmt.Errorf("transaction %s reverted", res.TxHash.Hex()))
	}
	if receipt.ContractAddress != (common.Address{}) {
		a.Address = receipt.ContractAddress
	}

	if r.checkCode {
		if err := r.verifyCode(ctx, a.Address); err != nil {
			return fail(err)
		}
	}
	if r.verify != nil {
		if err := r.verify(ctx, a.Address); err != nil {
			return fail(fmt.Errorf("verify: %w", err))
		}
	}

	a.Status = StatusSucceeded
	a.FinishedAt = r.now()
	return a
}

func (r *Runner) verifyCode(ctx context.Context, addr common.Address) error {
	cr, ok := r.chain.(codeReader)
	if !ok {
		return errors.New("code check: chain cannot read code")
	}
	code, err := cr.CodeAt(ctx, addr)
	if err != nil {
		return fmt.Errorf("code check: %w", err)
	}
	if len(code) == 0 {
		return fmt.Errorf("code check: no code at %s", addr.Hex())
	}
	return nil
}
