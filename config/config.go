// Package config loads the feesaga service settings from flags, with
// environment variables as defaults, and resolves the database password from
// Vault when one is configured.
package config

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fortressi/feesaga/workflow"
	vault "github.com/hashicorp/vault/api"
)

// Config holds the service settings.
type Config struct {
	HTTPAddr string
	// NATSURL enables the NATS transport when set.
	NATSURL    string
	NATSPrefix string
	// DSN selects the Postgres transaction store when set.
	DSN string
	// StateDir holds saga journals. Empty keeps journals in memory.
	StateDir    string
	MaxFailures int
	MaxAttempts uint64
	CallTimeout time.Duration

	VaultAddr  string
	VaultMount string
	VaultPath  string
	VaultKey   string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		NATSPrefix:  "feesaga",
		MaxFailures: 2,
		MaxAttempts: 20,
		CallTimeout: 30 * time.Second,
		VaultMount:  "secret",
		VaultPath:   "feesaga/database",
		VaultKey:    "password",
	}
}

// Getenv looks up an environment variable. os.Getenv satisfies it.
type Getenv func(key string) string

// FromEnv returns Default overridden by FEESAGA_* variables and the
// conventional NATS_URL, DATABASE_URL and VAULT_ADDR.
func FromEnv(getenv Getenv) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	c := Default()

	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.HTTPAddr, "FEESAGA_HTTP_ADDR")
	str(&c.NATSURL, "FEESAGA_NATS_URL", "NATS_URL")
	str(&c.NATSPrefix, "FEESAGA_NATS_PREFIX")
	str(&c.DSN, "FEESAGA_DSN", "DATABASE_URL")
	str(&c.StateDir, "FEESAGA_STATE_DIR")
	str(&c.VaultAddr, "VAULT_ADDR")
	str(&c.VaultMount, "FEESAGA_VAULT_MOUNT")
	str(&c.VaultPath, "FEESAGA_VAULT_PATH")
	str(&c.VaultKey, "FEESAGA_VAULT_KEY")

	if v := getenv("FEESAGA_MAX_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("FEESAGA_MAX_FAILURES: %w", err)
		}
		c.MaxFailures = n
	}
	if v := getenv("FEESAGA_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("FEESAGA_MAX_ATTEMPTS: %w", err)
		}
		c.MaxAttempts = n
	}
	if v := getenv("FEESAGA_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("FEESAGA_CALL_TIMEOUT: %w", err)
		}
		c.CallTimeout = d
	}
	return c, nil
}

// RegisterFlags binds c's fields to flags on fs, using the current values
// as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.NATSURL, "nats-url", c.NATSURL, "NATS server URL; empty disables the NATS transport")
	fs.StringVar(&c.NATSPrefix, "nats-prefix", c.NATSPrefix, "NATS subject prefix for workflow calls")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "Postgres DSN; empty keeps transactions in memory")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "Directory for saga journals; empty keeps them in memory")
	fs.IntVar(&c.MaxFailures, "max-failures", c.MaxFailures, "Forced failures per saga step")
	fs.Uint64Var(&c.MaxAttempts, "max-attempts", c.MaxAttempts, "Saga invocations before giving up")
	fs.DurationVar(&c.CallTimeout, "call-timeout", c.CallTimeout, "Timeout of a cross-workflow call")
	fs.StringVar(&c.VaultAddr, "vault-addr", c.VaultAddr, "Vault address; set to read the database password from Vault")
	fs.StringVar(&c.VaultMount, "vault-mount", c.VaultMount, "Vault KV v2 mount")
	fs.StringVar(&c.VaultPath, "vault-path", c.VaultPath, "Vault secret path of the database credentials")
	fs.StringVar(&c.VaultKey, "vault-key", c.VaultKey, "Key of the password in the Vault secret")
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.MaxFailures < 0 {
		errs = append(errs, errors.New("max-failures must not be negative"))
	}
	if c.MaxAttempts == 0 {
		errs = append(errs, errors.New("max-attempts must be positive"))
	} else if need := workflow.InvocationsNeeded(c.MaxFailures); c.MaxFailures >= 0 && c.MaxAttempts < need {
		errs = append(errs, fmt.Errorf("max-attempts %d cannot complete a saga with max-failures %d; it needs at least %d",
			c.MaxAttempts, c.MaxFailures, need))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call-timeout must be positive"))
	}
	if c.NATSURL != "" && c.NATSPrefix == "" {
		errs = append(errs, errors.New("nats-prefix is required with nats-url"))
	}
	if c.VaultAddr != "" && c.DSN == "" {
		errs = append(errs, errors.New("vault-addr needs a dsn to put the password in"))
	}
	return errors.Join(errs...)
}

// SecretReader reads one value of a secret.
type SecretReader interface {
	Secret(ctx context.Context, mount, path, key string) (string, error)
}

// VaultSecrets reads KV v2 secrets from Vault.
type VaultSecrets struct {
	client *vault.Client
}

// NewVaultSecrets returns a reader for the Vault at addr. The token comes
// from VAULT_TOKEN as usual for the Vault client.
func NewVaultSecrets(addr string) (*VaultSecrets, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = addr

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	return &VaultSecrets{client: client}, nil
}

func (v *VaultSecrets) Secret(ctx context.Context, mount, path, key string) (string, error) {
	secret, err := v.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", mount, path, err)
	}
	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s/%s has no %q", mount, path, key)
	}
	return value, nil
}

// DatabaseDSN returns c.DSN with the password from secrets when Vault is
// configured, and c.DSN unchanged otherwise.
func (c Config) DatabaseDSN(ctx context.Context, secrets SecretReader) (string, error) {
	if c.DSN == "" || c.VaultAddr == "" {
		return c.DSN, nil
	}
	password, err := secrets.Secret(ctx, c.VaultMount, c.VaultPath, c.VaultKey)
	if err != nil {
		return "", err
	}
	return withPassword(c.DSN, password)
}

// withPassword sets the password of a URL or key=value Postgres DSN.
func withPassword(dsn, password string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		u.User = url.UserPassword(u.User.Username(), password)
		return u.String(), nil
	}

	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(password)
	return dsn + " password='" + escaped + "'", nil
}
