// Package solc compiles Solidity sources by driving the solc executable
// through its standard JSON interface.
package solc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const DefaultPath = "solc"

// Source is a single Solidity file and the contract to take from it.
type Source struct {
	FileName     string
	ContractName string
	Content      string
}

// Artifact is the compiled form of a contract: its ABI and creation bytecode.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
	Warnings     []string
}

// CompileError carries the error-severity diagnostics reported by solc.
type CompileError struct {
	Messages []string
}

func (e *CompileError) Error() string {
	return "compilation errors:\n" + strings.Join(e.Messages, "\n")
}

type (
	input struct {
		Language string                 `json:"language"`
		Sources  map[string]inputSource `json:"sources"`
		Settings inputSettings          `json:"settings"`
	}

	inputSource struct {
		Content string `json:"content"`
	}

	inputSettings struct {
		OutputSelection map[string]map[string][]string `json:"outputSelection"`
	}

	output struct {
		Errors    []outputError                        `json:"errors"`
		Contracts map[string]map[string]outputContract `json:"contracts"`
	}

	outputError struct {
		Severity         string `json:"severity"`
		Type             string `json:"type"`
		Message          string `json:"message"`
		FormattedMessage string `json:"formattedMessage"`
	}

	outputContract struct {
		ABI json.RawMessage `json:"abi"`
		EVM struct {
			Bytecode struct {
				Object string `json:"object"`
			} `json:"bytecode"`
		} `json:"evm"`
	}
)

type runFunc func(ctx context.Context, stdin []byte, args ...string) ([]byte, error)

// Compiler runs a solc binary. The zero value is not usable; use New.
type Compiler struct {
	path string
	run  runFunc
}

// New returns a compiler for the solc binary at path, or on $PATH when path
// is empty.
func New(path string) *Compiler {
	if path == "" {
		path = DefaultPath
	}
	c := &Compiler{path: path}
	c.run = c.exec
	return c
}

func (c *Compiler) Path() string {
	return c.path
}

func (c *Compiler) exec(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.path, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("run %s: %w: %s", c.path, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run %s: %w", c.path, err)
	}
	return out, nil
}

// Version returns the version string reported by solc --version.
func (c *Compiler) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, nil, "--version")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Version:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("unexpected solc --version output: %q", strings.TrimSpace(string(out)))
}

// Compile compiles src and returns the artifact for src.ContractName.
// Diagnostics with error severity fail the compilation with a *CompileError;
// warnings are returned on the artifact.
func (c *Compiler) Compile(ctx context.Context, src Source) (Artifact, error) {
	in := input{
		Language: "Solidity",
		Sources:  map[string]inputSource{src.FileName: {Content: src.Content}},
		Settings: inputSettings{
			OutputSelection: map[string]map[string][]string{
				"*": {"*": {"abi", "evm.bytecode"}},
			},
		},
	}
	stdin, err := json.Marshal(in)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode compiler input: %w", err)
	}

	raw, err := c.run(ctx, stdin, "--standard-json")
	if err != nil {
		return Artifact{}, err
	}

	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Artifact{}, fmt.Errorf("parse compiler output: %w", err)
	}

	var errs, warnings []string
	for _, e := range out.Errors {
		msg := e.FormattedMessage
		if msg == "" {
			msg = e.Message
		}
		switch e.Severity {
		case "error":
			errs = append(errs, msg)
		case "warning":
			warnings = append(warnings, msg)
		}
	}
	if len(errs) > 0 {
		return Artifact{}, &CompileError{Messages: errs}
	}

	contract, ok := out.Contracts[src.FileName][src.ContractName]
	if !ok {
		return Artifact{}, fmt.Errorf("contract %q not found in compilation output", src.ContractName)
	}

	bytecode, err := hex.DecodeString(strings.TrimPrefix(contract.EVM.Bytecode.Object, "0x"))
	if err != nil {
		return Artifact{}, fmt.Errorf("decode bytecode: %w", err)
	}
	if len(bytecode) == 0 {
		return Artifact{}, fmt.Errorf("contract %q has no creation bytecode", src.ContractName)
	}

	parsed, err := abi.JSON(bytes.NewReader(contract.ABI))
	if err != nil {
		return Artifact{}, fmt.Errorf("parse abi: %w", err)
	}

	return Artifact{
		ContractName: src.ContractName,
		ABI:          parsed,
		Bytecode:     bytecode,
		Warnings:     warnings,
	}, nil
}
