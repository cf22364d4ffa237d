package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bilibili BilibiliConfig `mapstructure:"bilibili"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type BilibiliConfig struct {
	Mode          string        `mapstructure:"mode"`            // web（真实投稿）或 mock（直接返回模拟结果）
	MemberBaseURL string        `mapstructure:"member_base_url"` // 创作中心 API 地址，默认 https://member.bilibili.com
	UploadScheme  string        `mapstructure:"upload_scheme"`   // CDN 上传地址使用的协议，默认 https
	Profile       string        `mapstructure:"profile"`         // 预上传 profile，默认 ugcupos/bup
	Cookie        string        `mapstructure:"cookie"`          // 完整的 Cookie 请求头
	CookiesFile   string        `mapstructure:"cookies_file"`    // Cookies 文件路径（Netscape 格式或 JSON 格式）
	APITimeout    time.Duration `mapstructure:"api_timeout"`
	CDNTimeout    time.Duration `mapstructure:"cdn_timeout"`
	// 预上传限速（每秒请求数），0 表示不限速
	PreuploadRate  float64 `mapstructure:"preupload_rate"`
	PreuploadBurst int     `mapstructure:"preupload_burst"`
}

type StorageConfig struct {
	Driver string      `mapstructure:"driver"` // local / s3 / gcs
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
	GCS    GCSConfig   `mapstructure:"gcs"`
}

type LocalConfig struct {
	Root string `mapstructure:"root"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite / postgres
	DSN    string `mapstructure:"dsn"`
}

type QueueConfig struct {
	Driver            string        `mapstructure:"driver"` // redis / memory
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// OracleConfig 分区推荐所用的 OpenAI 兼容接口
type OracleConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	MaxRetries  int    `mapstructure:"max_retries"`
	WorkDir     string `mapstructure:"work_dir"`
	TypeIDMode  string `mapstructure:"typeid_mode"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type LoggingConfig struct {
	Level      string       `mapstructure:"level"`
	FilePath   string       `mapstructure:"file_path"`
	StdoutPath string       `mapstructure:"stdout_path"`
	StderrPath string       `mapstructure:"stderr_path"`
	Rotate     RotateConfig `mapstructure:"rotate"`
}

type RotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

var globalConfig *Config

// SetDefaults 注册默认值，Load 与测试共用
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bilibili.mode", "web")
	v.SetDefault("bilibili.member_base_url", "https://member.bilibili.com")
	v.SetDefault("bilibili.upload_scheme", "https")
	v.SetDefault("bilibili.profile", "ugcupos/bup")
	v.SetDefault("bilibili.api_timeout", 30*time.Second)
	v.SetDefault("bilibili.cdn_timeout", 120*time.Second)
	v.SetDefault("bilibili.preupload_burst", 1)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.root", "./data")
	v.SetDefault("storage.s3.region", "us-east-1")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "bilipub.db")

	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.redis_addr", "127.0.0.1:6379")
	v.SetDefault("queue.key_prefix", "bilipub")
	v.SetDefault("queue.visibility_timeout", 30*time.Minute)
	v.SetDefault("queue.poll_interval", time.Second)

	v.SetDefault("oracle.base_url", "https://api.openai.com/v1")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.timeout", 30*time.Second)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.max_retries", 5)
	v.SetDefault("worker.typeid_mode", "bilibili_predict")

	v.SetDefault("logging.level", "info")
}

func Load(configPath string) (*Config, error) {
	v := viper.GetViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bilipub")
	}

	SetDefaults(v)
	v.SetEnvPrefix("BILIPUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 没有配置文件时使用默认值 + 环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config, err := Unmarshal(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Unmarshal 从 viper 实例解析并校验配置
func Unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

func Get() *Config {
	return globalConfig
}

func validate(cfg *Config) error {
	switch cfg.Bilibili.Mode {
	case "web", "mock":
	default:
		return fmt.Errorf("bilibili.mode 只能是 web 或 mock: %q", cfg.Bilibili.Mode)
	}
	if cfg.Bilibili.MemberBaseURL == "" {
		return fmt.Errorf("B站创作中心地址不能为空")
	}
	if cfg.Bilibili.PreuploadRate < 0 {
		return fmt.Errorf("bilibili.preupload_rate 不能为负数")
	}

	switch cfg.Storage.Driver {
	case "local":
		if cfg.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root 不能为空")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket 不能为空")
		}
	case "gcs":
		if cfg.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket 不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储类型: %q", cfg.Storage.Driver)
	}

	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库类型: %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn 不能为空")
	}

	switch cfg.Queue.Driver {
	case "redis":
		if cfg.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr 不能为空")
		}
	case "memory":
	default:
		return fmt.Errorf("不支持的队列类型: %q", cfg.Queue.Driver)
	}

	if cfg.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency 必须大于 0")
	}
	if cfg.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries 不能为负数")
	}
	switch cfg.Worker.TypeIDMode {
	case "explicit", "platform_predict", "bilibili_predict", "ai_summary":
	default:
		return fmt.Errorf("不支持的分区模式: %q", cfg.Worker.TypeIDMode)
	}

	return nil
}
