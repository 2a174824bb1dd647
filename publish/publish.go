package publish

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
)

const (
	DefaultPollInterval = 2 * time.Second

	// Added on top of eth_estimateGas so small state differences between
	// estimation and inclusion do not run the deployment out of gas.
	gasHeadroomPercent = 20
)

type (
	DeployResult struct {
		TxHash          common.Hash
		ContractAddress common.Address
		Nonce           uint64
	}

	// Options tunes a Deployer. Zero values are resolved from the node:
	// ChainID through eth_chainId, GasLimit through eth_estimateGas and the
	// fee caps through eth_gasPrice / eth_maxPriorityFeePerGas.
	Options struct {
		ChainID      int64
		GasLimit     uint64
		GasFeeCap    *big.Int
		GasTipCap    *big.Int
		PollInterval time.Duration
	}

	// Deployer signs and broadcasts contract creation transactions from a
	// single key. It tracks the sender nonce itself and is not safe for
	// concurrent use.
	Deployer struct {
		client       *w3.Client
		signer       types.Signer
		chainID      *big.Int
		key          *ecdsa.PrivateKey
		address      common.Address
		gasLimit     uint64
		gasFeeCap    *big.Int
		gasTipCap    *big.Int
		pollInterval time.Duration
		nonces       nonceCursor
	}
)

func NewDeployer(ctx context.Context, rpcURL string, privateKey *ecdsa.PrivateKey, opts Options) (*Deployer, error) {
	if privateKey == nil {
		return nil, errors.New("private key is required")
	}
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID := big.NewInt(opts.ChainID)
	if opts.ChainID == 0 {
		var id uint64
		if err := client.CallCtx(ctx, eth.ChainID().Returns(&id)); err != nil {
			client.Close()
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		chainID = new(big.Int).SetUint64(id)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Deployer{
		client:       client,
		signer:       types.NewLondonSigner(chainID),
		chainID:      chainID,
		key:          privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		gasLimit:     opts.GasLimit,
		gasFeeCap:    opts.GasFeeCap,
		gasTipCap:    opts.GasTipCap,
		pollInterval: pollInterval,
	}, nil
}

func (d *Deployer) Address() common.Address {
	return d.address
}

func (d *Deployer) ChainID() *big.Int {
	return new(big.Int).Set(d.chainID)
}

func (d *Deployer) Close() error {
	return d.client.Close()
}

func (d *Deployer) fees(ctx context.Context) (feeCap, tipCap *big.Int, err error) {
	if d.gasFeeCap != nil && d.gasFeeCap.Sign() > 0 && d.gasTipCap != nil && d.gasTipCap.Sign() > 0 {
		return d.gasFeeCap, d.gasTipCap, nil
	}

	var gasPrice, suggestedTip *big.Int
	if err := d.client.CallCtx(ctx,
		eth.GasPrice().Returns(&gasPrice),
		eth.GasTipCap().Returns(&suggestedTip),
	); err != nil {
		return nil, nil, fmt.Errorf("get gas price: %w", err)
	}

	tipCap = suggestedTip
	if d.gasTipCap != nil && d.gasTipCap.Sign() > 0 {
		tipCap = d.gasTipCap
	}
	feeCap = d.gasFeeCap
	if feeCap == nil || feeCap.Sign() <= 0 {
		// 2x the current price leaves room for base fee growth over a few blocks.
		feeCap = new(big.Int).Add(new(big.Int).Mul(gasPrice, big.NewInt(2)), tipCap)
	}
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = feeCap
	}
	return feeCap, tipCap, nil
}

func (d *Deployer) estimateGas(ctx context.Context, data []byte) (uint64, error) {
	if d.gasLimit > 0 {
		return d.gasLimit, nil
	}
	var gas uint64
	msg := &w3types.Message{From: d.address, Input: data}
	if err := d.client.CallCtx(ctx, eth.EstimateGas(msg, nil).Returns(&gas)); err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas + gas*gasHeadroomPercent/100, nil
}

func (d *Deployer) sendTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signedTx, err := types.SignTx(tx, d.signer, d.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	var hash common.Hash
	if err := d.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(&hash)); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	if hash != signedTx.Hash() {
		return common.Hash{}, fmt.Errorf("send tx: node returned hash %s for %s", hash.Hex(), signedTx.Hash().Hex())
	}
	return hash, nil
}

// Deploy broadcasts a contract creation transaction carrying bytecode and
// returns without waiting for it to be mined. The contract address is derived
// from the sender and the nonce used.
func (d *Deployer) Deploy(ctx context.Context, bytecode []byte) (DeployResult, error) {
	if len(bytecode) == 0 {
		return DeployResult{}, errors.New("empty bytecode")
	}

	nonce, err := d.nextNonce(ctx)
	if err != nil {
		return DeployResult{}, err
	}

	gasLimit, err := d.estimateGas(ctx, bytecode)
	if err != nil {
		return DeployResult{}, err
	}
	feeCap, tipCap, err := d.fees(ctx)
	if err != nil {
		return DeployResult{}, err
	}

	//  EIP-1559 only
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     nonce,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		Gas:       gasLimit,
		Data:      bytecode,
	})

	txHash, err := d.sendTx(ctx, tx)
	if err != nil {
		d.nonces.invalidate()
		return DeployResult{}, err
	}
	d.nonces.advance()

	return DeployResult{
		TxHash:          txHash,
		ContractAddress: crypto.CreateAddress(d.address, nonce),
		Nonce:           nonce,
	}, nil
}

func (d *Deployer) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := d.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return nil, fmt.Errorf("wait for %s: %w (last error: %v)", txHash.Hex(), ctx.Err(), err)
			}
			return nil, fmt.Errorf("wait for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Deployer) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := d.client.CallCtx(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

// Call runs a read-only message against to at the latest block.
func (d *Deployer) Call(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	var out []byte
	msg := &w3types.Message{From: d.address, To: &to, Input: input}
	if err := d.client.CallCtx(ctx, eth.Call(msg, nil, nil).Returns(&out)); err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}
