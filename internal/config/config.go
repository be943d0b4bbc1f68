package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config is the process configuration shared by the Lambda and the CLI.
type Config struct {
	DatabasePath         string        `env:"PIGGYBANK_DB_PATH"`
	ParamPrefix          string        `env:"PARAM_PREFIX"                envDefault:"/piggybank"`
	SessionBackend       string        `env:"SESSION_BACKEND"             envDefault:"sqlite"`
	StateTable           string        `env:"STATE_TABLE"`
	SessionTTL           time.Duration `env:"SESSION_TTL"                 envDefault:"60s"`
	SweepInterval        time.Duration `env:"SESSION_SWEEP_INTERVAL"      envDefault:"30s"`
	ClearSessionsOnStart bool          `env:"CLEAR_SESSIONS_ON_START"     envDefault:"true"`
	OverdraftLimitCents  int64         `env:"OVERDRAFT_LIMIT_CENTS"       envDefault:"0"`
	MaxQuestionLen       int           `env:"MAX_QUESTION_LENGTH"         envDefault:"500"`
	MaxToolRounds        int           `env:"MAX_TOOL_ROUNDS"             envDefault:"5"`
	OpenAIBaseURL        string        `env:"OPENAI_BASE_URL"`
	LogLevel             slog.Level    `env:"LOG_LEVEL"                   envDefault:"info"`

	// Set by the Lambda runtime.
	LambdaFunction string `env:"AWS_LAMBDA_FUNCTION_NAME"`
}

// ephemeralDirs are Lambda paths that are read-only or discarded with the
// execution environment.
var ephemeralDirs = []string{"/tmp", "/var/task", "/opt"}

// Load reads an optional .env file (or the given files, which must exist)
// and then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("config: load env files: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("config: PIGGYBANK_DB_PATH is required")
	}
	if c.LambdaFunction != "" {
		if err := durableLedgerPath(c.DatabasePath); err != nil {
			return err
		}
	}
	switch c.SessionBackend {
	case BackendSQLite:
	case BackendDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb session backend")
		}
	default:
		return fmt.Errorf("config: invalid SESSION_BACKEND %q, must be %q or %q", c.SessionBackend, BackendSQLite, BackendDynamoDB)
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.OverdraftLimitCents < 0 {
		return errors.New("config: OVERDRAFT_LIMIT_CENTS must not be negative")
	}
	return nil
}

// durableLedgerPath rejects ledger locations that do not outlive a Lambda
// execution environment. Lambda deployments mount a shared file system
// (EFS) and point PIGGYBANK_DB_PATH at it.
func durableLedgerPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("config: PIGGYBANK_DB_PATH %q must be an absolute path on a mounted file system when running on Lambda", path)
	}
	clean := filepath.Clean(path)
	for _, dir := range ephemeralDirs {
		if clean == dir || strings.HasPrefix(clean, dir+"/") {
			return fmt.Errorf("config: PIGGYBANK_DB_PATH %q is inside %s, which does not persist on Lambda", path, dir)
		}
	}
	return nil
}
