package solc

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterABI = `[
	{"anonymous":false,"inputs":[{"indexed":false,"internalType":"uint256","name":"newCount","type":"uint256"}],"name":"CountIncremented","type":"event"},
	{"inputs":[],"name":"getCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"increment","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var testSource = Source{
	FileName:     "Counter.sol",
	ContractName: "Counter",
	Content:      "pragma solidity ^0.8.0;\ncontract Counter { uint256 private count; }\n",
}

func cannedOutput(t *testing.T, errs []outputError, bytecode string) []byte {
	t.Helper()
	doc := map[string]any{
		"errors": errs,
		"contracts": map[string]any{
			"Counter.sol": map[string]any{
				"Counter": map[string]any{
					"abi": json.RawMessage(counterABI),
					"evm": map[string]any{"bytecode": map[string]any{"object": bytecode}},
				},
			},
		},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func newFakeCompiler(fn runFunc) *Compiler {
	c := New("")
	c.run = fn
	return c
}

func TestNew_DefaultsPath(t *testing.T) {
	assert.Equal(t, DefaultPath, New("").Path())
	assert.Equal(t, "/opt/solc-0.8.26", New("/opt/solc-0.8.26").Path())
}

func TestCompiler_Compile(t *testing.T) {
	var gotArgs []string
	var gotInput input
	c := newFakeCompiler(func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
		gotArgs = args
		require.NoError(t, json.Unmarshal(stdin, &gotInput))
		return cannedOutput(t, []outputError{
			{Severity: "warning", FormattedMessage: "Warning: SPDX license identifier not provided"},
		}, "6080604052"), nil
	})

	art, err := c.Compile(context.Background(), testSource)
	require.NoError(t, err)

	assert.Equal(t, []string{"--standard-json"}, gotArgs)
	assert.Equal(t, "Solidity", gotInput.Language)
	assert.Equal(t, testSource.Content, gotInput.Sources["Counter.sol"].Content)
	assert.Equal(t, []string{"abi", "evm.bytecode"}, gotInput.Settings.OutputSelection["*"]["*"])

	assert.Equal(t, "Counter", art.ContractName)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, art.Bytecode)
	assert.Contains(t, art.ABI.Methods, "getCount")
	assert.Contains(t, art.ABI.Methods, "increment")
	assert.Contains(t, art.ABI.Events, "CountIncremented")
	assert.Len(t, art.Warnings, 1)
}

func TestCompiler_CompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		run     runFunc
		wantErr string
		compile bool
	}{
		{
			name: "error severity",
			run: func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
				return cannedOutput(t, []outputError{
					{Severity: "error", Type: "ParserError", FormattedMessage: "ParserError: Expected ';'"},
				}, ""), nil
			},
			wantErr: "ParserError: Expected ';'",
			compile: true,
		},
		{
			name: "missing contract",
			run: func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
				return []byte(`{"contracts":{}}`), nil
			},
			wantErr: `contract "Counter" not found`,
		},
		{
			name: "empty bytecode",
			run: func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
				return cannedOutput(t, nil, ""), nil
			},
			wantErr: "no creation bytecode",
		},
		{
			name: "bad hex",
			run: func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
				return cannedOutput(t, nil, "zz"), nil
			},
			wantErr: "decode bytecode",
		},
		{
			name: "garbage output",
			run: func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
				return []byte("not json"), nil
			},
			wantErr: "parse compiler output",
		},
		{
			name: "binary missing",
			run: func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
				return nil, exec.ErrNotFound
			},
			wantErr: "executable file not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newFakeCompiler(tc.run).Compile(context.Background(), testSource)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			var compileErr *CompileError
			assert.Equal(t, tc.compile, errors.As(err, &compileErr))
		})
	}
}

func TestCompiler_Version(t *testing.T) {
	c := newFakeCompiler(func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
		assert.Equal(t, []string{"--version"}, args)
		return []byte("solc, the solidity compiler commandline interface\nVersion: 0.8.26+commit.8a97fa7a.Linux.g++\n"), nil
	})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.8.26+commit.8a97fa7a.Linux.g++", v)

	c = newFakeCompiler(func(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
		return []byte("hello"), nil
	})
	_, err = c.Version(context.Background())
	require.Error(t, err)
}

func TestCompiler_CompileWithInstalledSolc(t *testing.T) {
	path, err := exec.LookPath(DefaultPath)
	if err != nil {
		t.Skip("solc not installed")
	}

	art, err := New(path).Compile(context.Background(), Source{
		FileName:     "Counter.sol",
		ContractName: "Counter",
		Content: `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.0;
contract Counter {
    uint256 private count;
    function getCount() public view returns (uint256) { return count; }
}
`,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, art.Bytecode)
	assert.Contains(t, art.ABI.Methods, "getCount")
}
