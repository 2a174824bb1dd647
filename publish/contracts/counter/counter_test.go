package counter

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource(t *testing.T) {
	src := Source()
	assert.Equal(t, "Counter.sol", src.FileName)
	assert.Equal(t, "Counter", src.ContractName)
	assert.True(t, strings.Contains(src.Content, "contract Counter"))
	assert.True(t, strings.Contains(src.Content, "pragma solidity "+SolidityVersion()))
}

func TestEncodeGetCount(t *testing.T) {
	data, err := EncodeGetCount()
	require.NoError(t, err)
	// keccak256("getCount()")[:4]
	assert.Equal(t, common.FromHex("0xa87d942c"), data)
}

func TestDecodeGetCount(t *testing.T) {
	out := common.LeftPadBytes(big.NewInt(7).Bytes(), 32)
	n, err := DecodeGetCount(out)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Int64())

	_, err = DecodeGetCount([]byte{0x01})
	require.Error(t, err)
}

type stubCaller struct {
	out []byte
	err error
	to  common.Address
	in  []byte
}

func (c *stubCaller) Call(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	c.to, c.in = to, input
	return c.out, c.err
}

func TestCheckDeployed(t *testing.T) {
	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	word := func(n int64) []byte { return common.LeftPadBytes(big.NewInt(n).Bytes(), 32) }

	tests := []struct {
		name    string
		caller  *stubCaller
		wantErr string
	}{
		{name: "fresh", caller: &stubCaller{out: word(0)}},
		{name: "already incremented", caller: &stubCaller{out: word(3)}, wantErr: "returned 3, want 0"},
		{name: "no code", caller: &stubCaller{out: []byte{}}, wantErr: "decode getCount"},
		{name: "call fails", caller: &stubCaller{err: errors.New("execution reverted")}, wantErr: "execution reverted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDeployed(context.Background(), tt.caller, addr)
			assert.Equal(t, addr, tt.caller.to)
			assert.Equal(t, common.FromHex("0xa87d942c"), tt.caller.in)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
