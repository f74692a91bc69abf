package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"artcat/pkg/storage"
	"artcat/pkg/types"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigurationError 缺失或格式错误的配置项，致命，不重试
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// Config 是进程入口构造一次、随后显式传给各组件的配置
type Config struct {
	File string `mapstructure:"-"` // 实际使用的配置文件，可能为空

	Data     DataConfig     `mapstructure:"data"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Ingest   IngestConfig   `mapstructure:"ingest"`

	// 以下内容原样进入 catalog snapshot
	Env      map[string]any                       `mapstructure:"env"`
	Config   map[string]any                       `mapstructure:"config"`
	Services map[string]map[string]map[string]any `mapstructure:"services"`
	Catalogs []CatalogConfig                      `mapstructure:"catalogs"`
}

type DataConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type StorageConfig struct {
	Type            string        `mapstructure:"type"` // s3 | disk
	URI             string        `mapstructure:"uri"`  // 归档根地址，必须以 URIPrefix 开头
	URIPrefix       string        `mapstructure:"uri_prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	Path            string        `mapstructure:"path"` // disk 模式的根目录
	UploadAttempts  int           `mapstructure:"upload_attempts"`
	UploadDelay     time.Duration `mapstructure:"upload_delay"`
}

// Signing 表示是否配置了签名能力 (S3 需要凭证)
func (s StorageConfig) Signing() bool {
	if s.Type == "disk" {
		return true
	}
	return s.AccessKeyID != "" && s.SecretAccessKey != ""
}

func (s StorageConfig) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{Attempts: s.UploadAttempts, Delay: s.UploadDelay}
}

type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"` // 为空则不启用
	TTL      time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite，为空则不启用
	DSN    string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr          string                 `mapstructure:"addr"`
	Port          int                    `mapstructure:"port"`
	PublicHost    string                 `mapstructure:"public_host"`
	SignTTL       time.Duration          `mapstructure:"sign_ttl"`
	SessionCookie string                 `mapstructure:"session_cookie"`
	Allow         map[string]AllowConfig `mapstructure:"allow"`
	RateLimit     RateLimitConfig        `mapstructure:"rate_limit"`
}

// ListenAddr 返回监听地址
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Addr, s.Port)
}

// AllowConfig 一个调用方别名的共享密钥与可见的 aspect
type AllowConfig struct {
	Key     string   `mapstructure:"key"`
	Aspects []string `mapstructure:"aspects"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"` // 0 表示不限流
	Burst int     `mapstructure:"burst"`
}

type IngestConfig struct {
	Aspects  []string `mapstructure:"aspects"`
	Platform string   `mapstructure:"platform"`
	Roots    []string `mapstructure:"roots"` // 相对服务目录，按顺序查找 aspect

	// ServicesPath 下是 {group}/{id} 两级服务目录，发布时作为候选成员
	ServicesPath string `mapstructure:"services_path"`
}

// AspectTypes 把配置里的字符串转成 AspectType
func (i IngestConfig) AspectTypes() []types.AspectType {
	out := make([]types.AspectType, 0, len(i.Aspects))
	for _, a := range i.Aspects {
		out = append(out, types.AspectType(a))
	}
	return out
}

// CatalogConfig 一个命名 catalog 的成员与附加配置
type CatalogConfig struct {
	Name     string         `mapstructure:"name"`
	UUID     string         `mapstructure:"uuid"`
	Services []string       `mapstructure:"services"` // gitignore 风格的 group/id 模式
	Config   map[string]any `mapstructure:"config"`
}

// Catalog 按名字查找
func (c *Config) Catalog(name string) (CatalogConfig, bool) {
	for _, cc := range c.Catalogs {
		if cc.Name == name {
			return cc, true
		}
	}
	return CatalogConfig{}, false
}

// Load 读取配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// 1. 设置默认值 (Defaults)
	setDefaults(v)

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		v.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：
		// 1. 当前目录
		v.AddConfigPath(".")
		// 2. 当前目录下的 .artcat
		v.AddConfigPath(".artcat")
		// 3. 用户主目录下的 .artcat
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".artcat"))
		}

		v.SetConfigType("yaml")
		v.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (ARTCAT_STORAGE_URI 等)
	v.SetEnvPrefix("ARTCAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 只是没找到配置文件不算错，可能全部来自环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	return decode(v, v.ConfigFileUsed())
}

func decode(v *viper.Viper, file string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = file
	if err := decodePassThrough(&cfg, file); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// passThrough 是原样进入 catalog snapshot 的配置段
// viper 会把 map 键名转成小写并按 "." 拆成嵌套 map，这几段直接从文件解码
type passThrough struct {
	Env      map[string]any                       `yaml:"env"`
	Config   map[string]any                       `yaml:"config"`
	Services map[string]map[string]map[string]any `yaml:"services"`
	Catalogs []struct {
		Config map[string]any `yaml:"config"`
	} `yaml:"catalogs"`
}

// decodePassThrough 用 yaml 重新读取配置文件里的自由格式段 (JSON 是 YAML 的子集)
// 其他格式的配置文件保留 viper 的解码结果
func decodePassThrough(cfg *Config, file string) error {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var raw passThrough
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", file, err)
	}

	cfg.Env = raw.Env
	cfg.Config = raw.Config
	cfg.Services = raw.Services
	for i := range cfg.Catalogs {
		if i < len(raw.Catalogs) {
			cfg.Catalogs[i].Config = raw.Catalogs[i].Config
		}
	}
	return nil
}

// Validate 在启动时一次性检查所有约束
func (c *Config) Validate() error {
	if c.Data.BasePath == "" {
		return &ConfigurationError{Key: "data.base_path", Reason: "is required"}
	}

	switch c.Storage.Type {
	case "s3":
	case "disk":
		if c.Storage.Path == "" {
			return &ConfigurationError{Key: "storage.path", Reason: "is required for disk storage"}
		}
	default:
		return &ConfigurationError{Key: "storage.type", Reason: fmt.Sprintf("unsupported storage type %q", c.Storage.Type)}
	}

	prefix := storage.NewLocator(c.Storage.URIPrefix).Prefix
	if c.Storage.URI != "" && !strings.HasPrefix(c.Storage.URI, prefix) {
		return &ConfigurationError{Key: "storage.uri", Reason: fmt.Sprintf("must begin with %q", prefix)}
	}
	if c.Storage.UploadAttempts < 1 {
		return &ConfigurationError{Key: "storage.upload_attempts", Reason: "must be at least 1"}
	}
	if c.Storage.UploadDelay < 0 {
		return &ConfigurationError{Key: "storage.upload_delay", Reason: "must not be negative"}
	}

	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return &ConfigurationError{Key: "database.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}

	for alias, a := range c.Server.Allow {
		if a.Key == "" {
			return &ConfigurationError{Key: "server.allow." + alias + ".key", Reason: "is required"}
		}
	}
	if c.Server.RateLimit.RPS < 0 {
		return &ConfigurationError{Key: "server.rate_limit.rps", Reason: "must not be negative"}
	}

	if len(c.Ingest.Aspects) == 0 {
		return &ConfigurationError{Key: "ingest.aspects", Reason: "must list at least one aspect"}
	}
	if len(c.Ingest.Roots) == 0 {
		return &ConfigurationError{Key: "ingest.roots", Reason: "must list at least one source root"}
	}

	seen := make(map[string]bool, len(c.Catalogs))
	for i, cc := range c.Catalogs {
		key := fmt.Sprintf("catalogs[%d]", i)
		if cc.Name == "" || strings.ContainsAny(cc.Name, `/\`) || cc.Name == "." || cc.Name == ".." {
			return &ConfigurationError{Key: key + ".name", Reason: fmt.Sprintf("invalid catalog name %q", cc.Name)}
		}
		if seen[cc.Name] {
			return &ConfigurationError{Key: key + ".name", Reason: fmt.Sprintf("duplicate catalog %q", cc.Name)}
		}
		seen[cc.Name] = true
		if cc.UUID == "" {
			return &ConfigurationError{Key: key + ".uuid", Reason: "is required"}
		}
	}
	return nil
}

// DefaultPlatform 是 build aspect 的平台标签
func DefaultPlatform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

func setDefaults(v *viper.Viper) {
	wd, _ := os.Getwd()

	v.SetDefault("data.base_path", filepath.Join(wd, ".artcat", "data"))

	// 存储默认值
	v.SetDefault("storage.type", "disk")
	v.SetDefault("storage.path", filepath.Join(wd, ".artcat", "objects"))
	v.SetDefault("storage.uri_prefix", storage.DefaultURIPrefix)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.upload_attempts", storage.DefaultUploadAttempts)
	v.SetDefault("storage.upload_delay", storage.DefaultUploadDelay)
	// 空默认值让 AutomaticEnv 能覆盖这些键 (ARTCAT_STORAGE_ACCESS_KEY_ID ...)
	for _, key := range []string{
		"storage.uri", "storage.endpoint", "storage.access_key_id", "storage.secret_access_key",
		"cache.redis_url", "database.driver", "database.dsn", "ingest.services_path",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("cache.ttl", 24*time.Hour)

	// 服务端默认值
	v.SetDefault("server.addr", "")
	v.SetDefault("server.port", 8013)
	v.SetDefault("server.public_host", "localhost")
	v.SetDefault("server.sign_ttl", 15*time.Minute)
	v.SetDefault("server.session_cookie", "x-artcat-sid")
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("ingest.aspects", []string{"scripts", "source", "build"})
	v.SetDefault("ingest.platform", DefaultPlatform())
	v.SetDefault("ingest.roots", []string{"sync", "live"})
}
