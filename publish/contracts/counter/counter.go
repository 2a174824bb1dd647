package counter

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"

	"github.com/cosmo-local-credit/counterdeploy/publish/solc"
)

const (
	name            = "Counter"
	fileName        = "Counter.sol"
	version         = "0.1.0"
	license         = "MIT"
	solidityVersion = "^0.8.0"
)

//go:embed Counter.sol
var source string

var funcGetCount = w3.MustNewFunc(
	"getCount()", "uint256",
)

func Name() string            { return name }
func Version() string         { return version }
func License() string         { return license }
func SolidityVersion() string { return solidityVersion }

func Source() solc.Source {
	return solc.Source{
		FileName:     fileName,
		ContractName: name,
		Content:      source,
	}
}

func EncodeGetCount() ([]byte, error) {
	return funcGetCount.EncodeArgs()
}

func DecodeGetCount(output []byte) (*big.Int, error) {
	var count *big.Int
	if err := funcGetCount.DecodeReturns(output, &count); err != nil {
		return nil, fmt.Errorf("decode getCount: %w", err)
	}
	return count, nil
}

// Caller runs a read-only call against a deployed contract.
type Caller interface {
	Call(ctx context.Context, to common.Address, input []byte) ([]byte, error)
}

// CheckDeployed calls getCount() at addr and requires a fresh counter.
func CheckDeployed(ctx context.Context, c Caller, addr common.Address) error {
	input, err := EncodeGetCount()
	if err != nil {
		return err
	}
	out, err := c.Call(ctx, addr, input)
	if err != nil {
		return err
	}
	count, err := DecodeGetCount(out)
	if err != nil {
		return err
	}
	if count.Sign() != 0 {
		return fmt.Errorf("getCount at %s returned %s, want 0", addr.Hex(), count)
	}
	return nil
}
