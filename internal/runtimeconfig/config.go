// Package runtimeconfig is the outer-layer YAML + environment-override
// config loader used by cmd/ entrypoints to assemble the per-subsystem
// Config structs the core packages themselves accept as plain values
// (wal.Config, gateway's constructor args, bridge.New's arguments, and so
// on). No core package imports this package: it exists only to translate
// an operator-facing config file into the values those constructors want.
package runtimeconfig

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config is the top-level runtime configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	WAL        WALConfig        `yaml:"wal"`
	Redis      RedisConfig      `yaml:"redis"`
	Identity   IdentityConfig   `yaml:"identity"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

type WALConfig struct {
	Dir            string `yaml:"dir"`
	MaxSegmentSize int    `yaml:"max_segment_size_bytes"`
	SyncMode       string `yaml:"sync_mode"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type IdentityConfig struct {
	SpireSocketPath string `yaml:"spire_socket_path"`
	TrustDomain     string `yaml:"trust_domain"`
}

type SandboxConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DockerRuntime string `yaml:"docker_runtime"`
	MinIdle       int    `yaml:"min_idle"`
	MaxCapacity   int    `yaml:"max_capacity"`
}

type BridgeConfig struct {
	SignerKeyID          string `yaml:"signer_key_id"`
	SignerSecret         string `yaml:"signer_secret"`
	IdempotencyRedisAddr string `yaml:"idempotency_redis_addr"`
	IdempotencyTTLSec    int    `yaml:"idempotency_ttl_sec"`
	IdempotencyPrefix    string `yaml:"idempotency_prefix"`
}

type CloudTasksConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
}

// LoadConfig reads path as YAML, then applies environment overrides.
// Grounded on the reference backend's internal/config LoadConfig +
// applyEnvOverrides pair.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return &cfg, nil
}

// applyEnvOverrides lets an operator override any file-sourced value
// without editing the file, matching the reference backend's own
// env-override convention (same prefix style, same "non-empty wins").
func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("MAPLE_ENV", c.Server.Env)
	c.Server.ShutdownTimeout = getEnvInt("MAPLE_SHUTDOWN_TIMEOUT_SEC", c.Server.ShutdownTimeout)

	c.WAL.Dir = getEnv("MAPLE_WAL_DIR", c.WAL.Dir)
	c.WAL.MaxSegmentSize = getEnvInt("MAPLE_WAL_MAX_SEGMENT_SIZE", c.WAL.MaxSegmentSize)
	c.WAL.SyncMode = getEnv("MAPLE_WAL_SYNC_MODE", c.WAL.SyncMode)

	c.Redis.Addr = getEnv("MAPLE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("MAPLE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("MAPLE_REDIS_DB", c.Redis.DB)

	c.Identity.SpireSocketPath = getEnv("MAPLE_SPIRE_SOCKET_PATH", c.Identity.SpireSocketPath)
	c.Identity.TrustDomain = getEnv("MAPLE_TRUST_DOMAIN", c.Identity.TrustDomain)

	c.Sandbox.Enabled = getEnvBool("MAPLE_SANDBOX_ENABLED", c.Sandbox.Enabled)
	c.Sandbox.DockerRuntime = getEnv("MAPLE_SANDBOX_RUNTIME", c.Sandbox.DockerRuntime)
	c.Sandbox.MinIdle = getEnvInt("MAPLE_SANDBOX_MIN_IDLE", c.Sandbox.MinIdle)
	c.Sandbox.MaxCapacity = getEnvInt("MAPLE_SANDBOX_MAX_CAPACITY", c.Sandbox.MaxCapacity)

	c.Bridge.SignerKeyID = getEnv("MAPLE_BRIDGE_SIGNER_KEY_ID", c.Bridge.SignerKeyID)
	c.Bridge.SignerSecret = getEnv("MAPLE_BRIDGE_SIGNER_SECRET", c.Bridge.SignerSecret)
	c.Bridge.IdempotencyRedisAddr = getEnv("MAPLE_BRIDGE_IDEMPOTENCY_REDIS_ADDR", c.Bridge.IdempotencyRedisAddr)
	c.Bridge.IdempotencyTTLSec = getEnvInt("MAPLE_BRIDGE_IDEMPOTENCY_TTL_SEC", c.Bridge.IdempotencyTTLSec)
	c.Bridge.IdempotencyPrefix = getEnv("MAPLE_BRIDGE_IDEMPOTENCY_PREFIX", c.Bridge.IdempotencyPrefix)

	c.CloudTasks.Enabled = getEnvBool("MAPLE_CLOUD_TASKS_ENABLED", c.CloudTasks.Enabled)
	c.CloudTasks.ProjectID = getEnv("MAPLE_CLOUD_TASKS_PROJECT_ID", c.CloudTasks.ProjectID)
	c.CloudTasks.LocationID = getEnv("MAPLE_CLOUD_TASKS_LOCATION_ID", c.CloudTasks.LocationID)
	c.CloudTasks.QueueID = getEnv("MAPLE_CLOUD_TASKS_QUEUE_ID", c.CloudTasks.QueueID)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

