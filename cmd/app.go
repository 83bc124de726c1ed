package cmd

import (
	"fmt"
	"time"

	"TalkingAvatar-server/config"
	"TalkingAvatar-server/logger"
	"TalkingAvatar-server/models"
	"TalkingAvatar-server/service"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app 一个进程内共享的依赖
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   models.Store
	gen     *service.GenerationService
	preview *service.VoicePreviewer
	redis   *redis.Client
	queue   *service.Queue
}

func loadApp() (*app, error) {
	if err := config.InitConfig(cfgPath); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	var artifacts service.ArtifactStore
	if cfg.MinIO.Enabled() {
		minioStore, err := service.NewMinIOStore(cfg.MinIO, log)
		if err != nil {
			return nil, err
		}
		artifacts = minioStore
	} else {
		log.Warn("MinIO 未配置，需要上传音频的步骤会失败")
	}

	orch := buildOrchestrator(cfg, store, artifacts, log)
	a := &app{
		cfg:   cfg,
		log:   log,
		store: store,
		gen:   service.NewGenerationService(store, orch.orchestrator, cfg.Pipeline.CharsPerSecond, log),
		preview: service.NewVoicePreviewer(
			orch.elevenLabs,
			cfg.Providers.ElevenLabs.PreviewModel,
		),
		redis: service.NewRedisClient(cfg.Redis),
	}
	if cfg.Redis.Enabled() {
		a.queue = service.NewQueue(cfg.Redis, cfg.Pipeline.WorstCase(), log)
	}

	log.Info("providers configured", zap.Strings("enabled", cfg.Providers.Enabled()))
	return a, nil
}

// openStore 未配置 DSN 时使用内存存储（开发模式）
func openStore(cfg *config.Config, log *zap.Logger) (models.Store, error) {
	if cfg.MySQL.DSN == "" {
		log.Warn("mysql.dsn 为空，使用内存存储（重启后数据丢失）")
		return models.NewMemoryStore(), nil
	}
	db, err := models.InitDB(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	log.Info("Database initialized")
	return models.NewGormStore(db), nil
}

type wiredProviders struct {
	orchestrator *service.Orchestrator
	elevenLabs   *service.ElevenLabs
}

func buildOrchestrator(cfg *config.Config, store models.Store, artifacts service.ArtifactStore, log *zap.Logger) wiredProviders {
	client := service.NewProviderClient(2*time.Minute, log)
	p := cfg.Providers
	speechPolicy := service.PollPolicy{Interval: cfg.Pipeline.PollInterval(), MaxAttempts: cfg.Pipeline.SpeechMaxAttempts}
	animationPolicy := service.PollPolicy{Interval: cfg.Pipeline.PollInterval(), MaxAttempts: cfg.Pipeline.AnimationMaxAttempts}

	var mirror service.ArtifactStore
	if cfg.Pipeline.MirrorArtifacts {
		mirror = artifacts
	}

	eleven := service.NewElevenLabs(client, p.ElevenLabs.APIKey, p.ElevenLabs.BaseURL)
	tts := service.NewReplicate("replicate-tts", p.Replicate.APIKey, p.Replicate.BaseURL, p.Replicate.TTSVersion)

	available := map[string]service.Animator{
		"sadtalker": service.NewSadTalkerAnimator(client,
			service.NewReplicate("replicate-sadtalker", p.Replicate.APIKey, p.Replicate.BaseURL, p.Replicate.SadTalkerVersion),
			animationPolicy, mirror),
		"sadtalker-alt": service.NewSadTalkerAltAnimator(client,
			service.NewReplicate("replicate-sadtalker-alt", p.Replicate.APIKey, p.Replicate.BaseURL, p.Replicate.SadTalkerAltVersion),
			animationPolicy, mirror),
		"did":    service.NewDIDAnimator(client, service.NewDID(p.DID.APIKey, p.DID.BaseURL), animationPolicy, mirror),
		"worker": service.NewWorkerAnimator(client, service.NewWorkerProvider(p.Worker.Addr, "talking_avatar"), animationPolicy, mirror),
	}
	var animators []service.Animator
	for _, name := range cfg.Pipeline.AnimationOrder {
		a, ok := available[name]
		if !ok {
			log.Warn("未知的动画 provider，已忽略", zap.String("name", name))
			continue
		}
		animators = append(animators, a)
	}

	return wiredProviders{
		orchestrator: service.NewOrchestrator(service.OrchestratorOptions{
			AudioSpeech:        service.NewReplicateSpeech(client, tts, speechPolicy, mirror, log),
			VideoSpeech:        service.NewElevenLabsSpeech(eleven, p.ElevenLabs.Model, artifacts),
			Animation:          service.NewAnimationChain(log, animators...),
			Avatars:            store,
			DefaultAvatarImage: cfg.Pipeline.DefaultAvatarImage,
			Log:                log,
		}),
		elevenLabs: eleven,
	}
}

func (a *app) close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.log.Sync()
}
