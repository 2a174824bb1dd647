package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	defaultEnvFile        = ".env"
	defaultTimeoutSeconds = 600
	defaultLogLevel       = "warn"
)

var errMissingConfig = errors.New("missing environment variables")

// config is read once at startup and passed down by value.
type config struct {
	PrivateKey    *ecdsa.PrivateKey
	Address       common.Address
	RPCURL        string
	ChainID       int64
	Count         string
	GasLimit      uint64
	GasFeeCap     *big.Int
	GasTipCap     *big.Int
	Timeout       time.Duration
	SolcPath      string
	JournalPath   string
	VerifyCode    bool
	JSON          bool
	NoColor       bool
	LogLevel      string
	LogFormat     string
	PublicAddress string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("timeout_seconds", defaultTimeoutSeconds)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", "text")

	v.AutomaticEnv()
	for _, key := range []string{
		"private_key", "rpc_url", "chain_id", "public_address", "count",
		"gas_limit", "gas_fee_cap", "gas_tip_cap", "timeout_seconds",
		"solc_path", "journal_path", "verify_code", "log_level", "log_format",
		"no_color",
	} {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}
	return v
}

// readEnvFile merges a dotenv file into v. A missing file is only an error
// when the path was given explicitly.
func readEnvFile(v *viper.Viper, path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		RPCURL:        strings.TrimSpace(v.GetString("rpc_url")),
		ChainID:       v.GetInt64("chain_id"),
		Count:         strings.TrimSpace(v.GetString("count")),
		GasLimit:      v.GetUint64("gas_limit"),
		GasFeeCap:     big.NewInt(v.GetInt64("gas_fee_cap")),
		GasTipCap:     big.NewInt(v.GetInt64("gas_tip_cap")),
		Timeout:       time.Duration(v.GetInt("timeout_seconds")) * time.Second,
		SolcPath:      v.GetString("solc_path"),
		JournalPath:   v.GetString("journal_path"),
		VerifyCode:    v.GetBool("verify_code"),
		JSON:          v.GetBool("json"),
		NoColor:       v.GetBool("no_color"),
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
		PublicAddress: strings.TrimSpace(v.GetString("public_address")),
	}

	rawKey := strings.TrimSpace(v.GetString("private_key"))
	var missing []string
	if rawKey == "" {
		missing = append(missing, "PRIVATE_KEY")
	}
	if cfg.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if len(missing) > 0 {
		return config{}, fmt.Errorf("%w: %s", errMissingConfig, strings.Join(missing, ", "))
	}

	key, addr, err := parsePrivateKey(rawKey)
	if err != nil {
		return config{}, err
	}
	cfg.PrivateKey = key
	cfg.Address = addr

	if cfg.PublicAddress != "" {
		pub, err := parseAddress(cfg.PublicAddress)
		if err != nil {
			return config{}, err
		}
		if !strings.EqualFold(pub.Hex(), addr.Hex()) {
			return config{}, fmt.Errorf("public-address %s does not match private key address %s", pub.Hex(), addr.Hex())
		}
	}
	if cfg.ChainID < 0 {
		return config{}, fmt.Errorf("chain-id must not be negative: %d", cfg.ChainID)
	}
	if cfg.GasFeeCap.Sign() < 0 || cfg.GasTipCap.Sign() < 0 {
		return config{}, errors.New("gas fee caps must not be negative")
	}
	if cfg.Timeout < 0 {
		return config{}, fmt.Errorf("timeout-seconds must not be negative: %d", v.GetInt("timeout_seconds"))
	}

	return cfg, nil
}

func parsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address: %s", v)
	}
	return common.HexToAddress(v), nil
}

func newLogger(levelName, format string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return logger
}
