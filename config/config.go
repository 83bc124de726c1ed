package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath 默认配置文件位置（与 main 的 --config 默认值一致）
const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Log       LogConfig       `yaml:"log"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
	} `yaml:"rate_limit"`
	Queue struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"queue"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled 未配置地址时不启用队列与分布式限流
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type MinIOConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	UseSSL       bool   `yaml:"use_ssl"`
	PresignHours int    `yaml:"presign_hours"`
}

func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ProvidersConfig 外部生成服务的凭证。凭证是否存在决定了降级路径。
type ProvidersConfig struct {
	Replicate struct {
		APIKey              string `yaml:"api_key"`
		BaseURL             string `yaml:"base_url"`
		TTSVersion          string `yaml:"tts_version"`
		SadTalkerVersion    string `yaml:"sadtalker_version"`
		SadTalkerAltVersion string `yaml:"sadtalker_alt_version"`
	} `yaml:"replicate"`
	ElevenLabs struct {
		APIKey       string `yaml:"api_key"`
		BaseURL      string `yaml:"base_url"`
		Model        string `yaml:"model"`
		PreviewModel string `yaml:"preview_model"`
	} `yaml:"elevenlabs"`
	DID struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"did"`
	// Worker 自部署的生成服务（/v1/generate + /v1/jobs/{id}）
	Worker struct {
		Addr string `yaml:"addr"`
	} `yaml:"worker"`
}

// Enabled 返回已配置凭证的 provider 名称
func (p ProvidersConfig) Enabled() []string {
	var names []string
	if p.Replicate.APIKey != "" {
		names = append(names, "replicate")
	}
	if p.ElevenLabs.APIKey != "" {
		names = append(names, "elevenlabs")
	}
	if p.DID.APIKey != "" {
		names = append(names, "did")
	}
	if p.Worker.Addr != "" {
		names = append(names, "worker")
	}
	return names
}

type PipelineConfig struct {
	PollIntervalSeconds  int      `yaml:"poll_interval_seconds"`
	SpeechMaxAttempts    int      `yaml:"speech_max_attempts"`
	AnimationMaxAttempts int      `yaml:"animation_max_attempts"`
	DefaultAvatarImage   string   `yaml:"default_avatar_image"`
	AnimationOrder       []string `yaml:"animation_order"`
	MirrorArtifacts      bool     `yaml:"mirror_artifacts"`
	CharsPerSecond       int      `yaml:"chars_per_second"`
}

func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// stageSlack 每个阶段额外预留的请求与转存时间
const stageSlack = 2 * time.Minute

// WorstCase 语音轮询加上所有动画 provider 依次轮询到超时的总时长
func (p PipelineConfig) WorstCase() time.Duration {
	stages := 1 + len(p.AnimationOrder)
	attempts := p.SpeechMaxAttempts + len(p.AnimationOrder)*p.AnimationMaxAttempts
	return time.Duration(attempts)*p.PollInterval() + time.Duration(stages)*stageSlack
}

var AppConfig *Config

// InitConfig 读取配置文件并写入全局 AppConfig
func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load 解析 yaml 配置，随后用环境变量覆盖凭证并补全默认值
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("配置文件读取失败: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("配置文件解析失败: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Providers.Replicate.APIKey, "REPLICATE_API_KEY")
	override(&c.Providers.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	override(&c.Providers.DID.APIKey, "DID_API_KEY")
	override(&c.Providers.Worker.Addr, "AVATAR_WORKER_ADDR")
	override(&c.MySQL.DSN, "MYSQL_DSN")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.MinIO.PresignHours <= 0 {
		c.MinIO.PresignHours = 72
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 5
	}

	r := &c.Providers.Replicate
	if r.BaseURL == "" {
		r.BaseURL = "https://api.replicate.com"
	}
	if r.TTSVersion == "" {
		r.TTSVersion = "fb9020c90c203be1f773b2d4c6698de742e5c35c64ad3de1bbce00a4cbee34b4"
	}
	if r.SadTalkerVersion == "" {
		r.SadTalkerVersion = "dc01f9f5ed23974b8473e4c3af9d4dc3bc3a8f5a9e7b6e5f8c5f9e4b3c2a1d0e"
	}
	el := &c.Providers.ElevenLabs
	if el.BaseURL == "" {
		el.BaseURL = "https://api.elevenlabs.io"
	}
	if el.Model == "" {
		el.Model = "eleven_multilingual_v2"
	}
	if el.PreviewModel == "" {
		el.PreviewModel = "eleven_turbo_v2"
	}
	if c.Providers.DID.BaseURL == "" {
		c.Providers.DID.BaseURL = "https://api.d-id.com"
	}

	p := &c.Pipeline
	if p.PollIntervalSeconds <= 0 {
		p.PollIntervalSeconds = 5
	}
	if p.SpeechMaxAttempts <= 0 {
		p.SpeechMaxAttempts = 30
	}
	if p.AnimationMaxAttempts <= 0 {
		p.AnimationMaxAttempts = 120
	}
	if p.CharsPerSecond <= 0 {
		p.CharsPerSecond = 15
	}
	if len(p.AnimationOrder) == 0 {
		p.AnimationOrder = []string{"sadtalker", "sadtalker-alt", "did", "worker"}
	}
}
