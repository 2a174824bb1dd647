package publish

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3/module/eth"
)

// nonceCursor is the next nonce the deployer will sign with. It is loaded
// from the node's pending nonce on first use and after any failed broadcast,
// and advanced locally after each accepted one.
type nonceCursor struct {
	next   uint64
	synced bool
}

func (c *nonceCursor) advance() {
	c.next++
}

func (c *nonceCursor) invalidate() {
	c.synced = false
}

var pendingBlock = big.NewInt(int64(rpc.PendingBlockNumber))

func (d *Deployer) getNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := d.client.CallCtx(ctx, eth.Nonce(d.address, pendingBlock).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (d *Deployer) nextNonce(ctx context.Context) (uint64, error) {
	if d.nonces.synced {
		return d.nonces.next, nil
	}
	nonce, err := d.getNonce(ctx)
	if err != nil {
		return 0, err
	}
	// Never step backwards past a nonce this deployer already broadcast; a
	// lagging node can report a pending nonce lower than ours.
	if nonce > d.nonces.next {
		d.nonces.next = nonce
	}
	d.nonces.synced = true
	return d.nonces.next, nil
}
