package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClassConfig es la política configurable de una clase de token.
type ClassConfig struct {
	TTL      string   `yaml:"ttl"`
	Audience []string `yaml:"audience"`
}

type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"` // dev | prod
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		// InternalAPIKey protege /v1/auth/session (lo llama el servicio que autentica al usuario).
		InternalAPIKey string `yaml:"internal_api_key"`
		// AdminAPIKey protege revoke y /v1/admin/*.
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Keys struct {
		RotationInterval string `yaml:"rotation_interval"`
		ActivationGrace  string `yaml:"activation_grace"`
		Overlap          string `yaml:"overlap"`
		RetiredGrace     string `yaml:"retired_grace"`
		RetireSweep      string `yaml:"retire_sweep"`
		JWKSMaxAge       string `yaml:"jwks_max_age"`
	} `yaml:"keys"`

	Secrets struct {
		Driver        string `yaml:"driver"` // memory | fs | vault
		Prefix        string `yaml:"prefix"`
		Timeout       string `yaml:"timeout"`
		PullInterval  string `yaml:"pull_interval"`
		Retries       int    `yaml:"retries"`
		WebhookSecret string `yaml:"webhook_secret"`
		MasterKey     string `yaml:"master_key"`
		FS            struct {
			Dir string `yaml:"dir"`
		} `yaml:"fs"`
		Vault struct {
			Address   string `yaml:"address"`
			Token     string `yaml:"token"`
			Mount     string `yaml:"mount"`
			Namespace string `yaml:"namespace"`
		} `yaml:"vault"`
	} `yaml:"secrets"`

	Store struct {
		Driver        string `yaml:"driver"` // memory | redis | postgres | mongo | sqlite
		DSN           string `yaml:"dsn"`
		Database      string `yaml:"database"`
		KeyPrefix     string `yaml:"key_prefix"`
		MaxConns      int    `yaml:"max_conns"`
		RevocationTTL string `yaml:"revocation_ttl"`
	} `yaml:"store"`

	Tokens struct {
		Issuer    string      `yaml:"issuer"`
		ClockSkew string      `yaml:"clock_skew"`
		Session   ClassConfig `yaml:"session"`
		Access    ClassConfig `yaml:"access"`
		Refresh   ClassConfig `yaml:"refresh"`
		M2M       ClassConfig `yaml:"m2m"`
	} `yaml:"tokens"`

	Lifecycle struct {
		ReuseScope      string `yaml:"reuse_scope"` // chain | subject
		RevokedCacheTTL string `yaml:"revoked_cache_ttl"`
	} `yaml:"lifecycle"`

	M2M struct {
		RegistryFile  string `yaml:"registry_file"`
		WatchDebounce string `yaml:"watch_debounce"`
	} `yaml:"m2m"`

	Rate struct {
		Enabled  bool   `yaml:"enabled"`
		Driver   string `yaml:"driver"` // memory | redis
		RedisURL string `yaml:"redis_url"`
		Prefix   string `yaml:"prefix"`
		Limit    int    `yaml:"limit"`
		Window   string `yaml:"window"`
	} `yaml:"rate"`

	Audit struct {
		File         string `yaml:"file"`
		MaxAge       string `yaml:"max_age"`
		RotationTime string `yaml:"rotation_time"`
	} `yaml:"audit"`
}

// Load lee el YAML (path vacío: solo defaults + env), completa defaults,
// aplica overrides de entorno y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// setDefaults: sane defaults
func (c *Config) setDefaults() {
	def := func(p *string, v string) {
		if strings.TrimSpace(*p) == "" {
			*p = v
		}
	}

	def(&c.App.Name, "journal-auth")
	def(&c.App.Env, "dev")

	def(&c.Server.Addr, ":8080")
	def(&c.Server.ReadTimeout, "10s")
	def(&c.Server.WriteTimeout, "15s")
	def(&c.Server.ShutdownTimeout, "15s")

	def(&c.Log.Level, "info")

	def(&c.Keys.RotationInterval, "24h")
	def(&c.Keys.ActivationGrace, "1h")
	def(&c.Keys.Overlap, "48h")
	def(&c.Keys.RetiredGrace, "744h")
	def(&c.Keys.RetireSweep, "10m")
	def(&c.Keys.JWKSMaxAge, "5m")

	def(&c.Secrets.Driver, "memory")
	def(&c.Secrets.Prefix, "signing-keys")
	def(&c.Secrets.Timeout, "3s")
	def(&c.Secrets.PullInterval, "5m")
	if c.Secrets.Retries <= 0 {
		c.Secrets.Retries = 2
	}
	def(&c.Secrets.FS.Dir, "data/secrets")
	def(&c.Secrets.Vault.Mount, "secret")

	def(&c.Store.Driver, "memory")
	def(&c.Store.KeyPrefix, "auth:")
	def(&c.Store.Database, "journal_auth")
	if c.Store.MaxConns <= 0 {
		c.Store.MaxConns = 10
	}
	def(&c.Store.RevocationTTL, "744h")

	def(&c.Tokens.Issuer, "journal-auth")
	def(&c.Tokens.ClockSkew, "5s")
	defClass(&c.Tokens.Session, "12h", "journal-web-session")
	defClass(&c.Tokens.Access, "10m", "journal-api")
	defClass(&c.Tokens.Refresh, "720h", "journal-auth-refresh")
	defClass(&c.Tokens.M2M, "30m", "journal-services")

	def(&c.Lifecycle.ReuseScope, "chain")
	def(&c.Lifecycle.RevokedCacheTTL, "2s")

	def(&c.M2M.WatchDebounce, "250ms")

	def(&c.Rate.Driver, "memory")
	def(&c.Rate.Prefix, "rl:")
	if c.Rate.Limit <= 0 {
		c.Rate.Limit = 60
	}
	def(&c.Rate.Window, "1m")

	def(&c.Audit.MaxAge, "720h")
	def(&c.Audit.RotationTime, "24h")
}

func defClass(cc *ClassConfig, ttl, aud string) {
	if strings.TrimSpace(cc.TTL) == "" {
		cc.TTL = ttl
	}
	if len(cc.Audience) == 0 {
		cc.Audience = []string{aud}
	}
}

// Validate chequea enums y duraciones. Load lo llama después de los defaults.
func (c *Config) Validate() error {
	var errs []error

	durs := map[string]string{
		"server.read_timeout":         c.Server.ReadTimeout,
		"server.write_timeout":        c.Server.WriteTimeout,
		"server.shutdown_timeout":     c.Server.ShutdownTimeout,
		"keys.rotation_interval":      c.Keys.RotationInterval,
		"keys.activation_grace":       c.Keys.ActivationGrace,
		"keys.overlap":                c.Keys.Overlap,
		"keys.retired_grace":          c.Keys.RetiredGrace,
		"keys.retire_sweep":           c.Keys.RetireSweep,
		"keys.jwks_max_age":           c.Keys.JWKSMaxAge,
		"secrets.timeout":             c.Secrets.Timeout,
		"secrets.pull_interval":       c.Secrets.PullInterval,
		"store.revocation_ttl":        c.Store.RevocationTTL,
		"tokens.clock_skew":           c.Tokens.ClockSkew,
		"tokens.session.ttl":          c.Tokens.Session.TTL,
		"tokens.access.ttl":           c.Tokens.Access.TTL,
		"tokens.refresh.ttl":          c.Tokens.Refresh.TTL,
		"tokens.m2m.ttl":              c.Tokens.M2M.TTL,
		"lifecycle.revoked_cache_ttl": c.Lifecycle.RevokedCacheTTL,
		"m2m.watch_debounce":          c.M2M.WatchDebounce,
		"rate.window":                 c.Rate.Window,
		"audit.max_age":               c.Audit.MaxAge,
		"audit.rotation_time":         c.Audit.RotationTime,
	}
	for name, v := range durs {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("config: %s: invalid duration %q", name, v))
		}
	}

	if !oneOf(c.App.Env, "dev", "prod") {
		errs = append(errs, fmt.Errorf("config: app.env must be dev|prod, got %q", c.App.Env))
	}
	if !oneOf(c.Secrets.Driver, "memory", "fs", "vault") {
		errs = append(errs, fmt.Errorf("config: secrets.driver %q not supported", c.Secrets.Driver))
	}
	if c.Secrets.Driver == "fs" && c.Secrets.MasterKey == "" {
		errs = append(errs, errors.New("config: secrets.master_key required with driver fs"))
	}
	if c.Secrets.Driver == "vault" && (c.Secrets.Vault.Address == "" || c.Secrets.Vault.Token == "") {
		errs = append(errs, errors.New("config: secrets.vault.address and token required with driver vault"))
	}
	if !oneOf(c.Store.Driver, "memory", "redis", "postgres", "mongo", "sqlite") {
		errs = append(errs, fmt.Errorf("config: store.driver %q not supported", c.Store.Driver))
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("config: store.dsn required with driver %s", c.Store.Driver))
	}
	if !oneOf(c.Lifecycle.ReuseScope, "chain", "subject") {
		errs = append(errs, fmt.Errorf("config: lifecycle.reuse_scope must be chain|subject, got %q", c.Lifecycle.ReuseScope))
	}
	if !oneOf(c.Rate.Driver, "memory", "redis") {
		errs = append(errs, fmt.Errorf("config: rate.driver %q not supported", c.Rate.Driver))
	}
	if c.Rate.Enabled && c.Rate.Driver == "redis" && c.Rate.RedisURL == "" {
		errs = append(errs, errors.New("config: rate.redis_url required with driver redis"))
	}

	// El historial de claves retiradas tiene que cubrir el refresh más largo.
	if rg, err1 := time.ParseDuration(c.Keys.RetiredGrace); err1 == nil {
		if rt, err2 := time.ParseDuration(c.Tokens.Refresh.TTL); err2 == nil && rg < rt {
			errs = append(errs, fmt.Errorf("config: keys.retired_grace (%s) must be >= tokens.refresh.ttl (%s)", rg, rt))
		}
	}
	return errors.Join(errs...)
}

// Duration parsea un valor ya validado; cero si no parsea.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(s))
	return d
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno
func (c *Config) applyEnvOverrides() {
	// App
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}

	// Server
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_INTERNAL_API_KEY"); ok {
		c.Server.InternalAPIKey = v
	}
	if v, ok := getEnvStr("SERVER_ADMIN_API_KEY"); ok {
		c.Server.AdminAPIKey = v
	}

	// Log
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// Keys
	if v, ok := getEnvDur("KEYS_ROTATION_INTERVAL"); ok {
		c.Keys.RotationInterval = v.String()
	}
	if v, ok := getEnvDur("KEYS_OVERLAP"); ok {
		c.Keys.Overlap = v.String()
	}
	if v, ok := getEnvDur("KEYS_RETIRED_GRACE"); ok {
		c.Keys.RetiredGrace = v.String()
	}

	// Secrets
	if v, ok := getEnvStr("SECRETS_DRIVER"); ok {
		c.Secrets.Driver = v
	}
	if v, ok := getEnvStr("SECRETS_MASTER_KEY"); ok {
		c.Secrets.MasterKey = v
	}
	if v, ok := getEnvStr("SECRETS_WEBHOOK_SECRET"); ok {
		c.Secrets.WebhookSecret = v
	}
	if v, ok := getEnvStr("SECRETS_FS_DIR"); ok {
		c.Secrets.FS.Dir = v
	}
	if v, ok := getEnvStr("VAULT_ADDR"); ok {
		c.Secrets.Vault.Address = v
	}
	if v, ok := getEnvStr("VAULT_TOKEN"); ok {
		c.Secrets.Vault.Token = v
	}
	if v, ok := getEnvStr("VAULT_NAMESPACE"); ok {
		c.Secrets.Vault.Namespace = v
	}
	if v, ok := getEnvDur("SECRETS_TIMEOUT"); ok {
		c.Secrets.Timeout = v.String()
	}
	if v, ok := getEnvInt("SECRETS_RETRIES"); ok {
		c.Secrets.Retries = v
	}

	// Store
	if v, ok := getEnvStr("STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := getEnvStr("STORE_DSN"); ok {
		c.Store.DSN = v
	}
	if v, ok := getEnvInt("STORE_MAX_CONNS"); ok {
		c.Store.MaxConns = v
	}

	// Tokens
	if v, ok := getEnvStr("TOKENS_ISSUER"); ok {
		c.Tokens.Issuer = v
	}
	if v, ok := getEnvDur("TOKENS_CLOCK_SKEW"); ok {
		c.Tokens.ClockSkew = v.String()
	}
	if v, ok := getEnvCSV("TOKENS_ACCESS_AUDIENCE"); ok {
		c.Tokens.Access.Audience = v
	}

	// Lifecycle
	if v, ok := getEnvStr("LIFECYCLE_REUSE_SCOPE"); ok {
		c.Lifecycle.ReuseScope = v
	}

	// M2M
	if v, ok := getEnvStr("M2M_REGISTRY_FILE"); ok {
		c.M2M.RegistryFile = v
	}

	// Rate
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_DRIVER"); ok {
		c.Rate.Driver = v
	}
	if v, ok := getEnvStr("RATE_REDIS_URL"); ok {
		c.Rate.RedisURL = v
	}
	if v, ok := getEnvInt("RATE_LIMIT"); ok {
		c.Rate.Limit = v
	}

	// Audit
	if v, ok := getEnvStr("AUDIT_FILE"); ok {
		c.Audit.File = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	if v == "" {
		return "", false
	}
	return v, true
}

func getEnvInt(key string) (int, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvBool(key string) (bool, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false
	}
	return b, true
}

func getEnvDur(key string) (time.Duration, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return d, true
}

func getEnvCSV(key string) ([]string, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}

// ResolvePath elige el archivo de config: explícito, $CONFIG_PATH,
// configs/config.yaml y por último vacío (solo defaults + env).
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v, ok := getEnvStr("CONFIG_PATH"); ok {
		return v
	}
	if st, err := os.Stat("configs/config.yaml"); err == nil && !st.IsDir() {
		return "configs/config.yaml"
	}
	return ""
}
