package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SpeechInput 一次语音合成请求
type SpeechInput struct {
	ProjectID string
	Text      string
	// Voice 语音风格（Replicate）或 voice id（ElevenLabs）
	Voice string
}

// SpeechSynthesizer 文本 -> 音频地址
type SpeechSynthesizer interface {
	Name() string
	Synthesize(ctx context.Context, in SpeechInput, observe PollObserver) (string, error)
}

// mmsLanguages 语音风格 -> MMS 语言参数，未知风格按 normal 处理
var mmsLanguages = map[string]string{
	"normal":    "eng",
	"vlog":      "eng",
	"pdf":       "eng",
	"announcer": "eng",
	"narrator":  "eng",
	"assistant": "eng",
}

func mmsLanguage(style string) string {
	if lang, ok := mmsLanguages[strings.ToLower(style)]; ok {
		return lang
	}
	return mmsLanguages["normal"]
}

// ReplicateSpeech Replicate MMS TTS（异步 prediction）
type ReplicateSpeech struct {
	client   *ProviderClient
	provider AsyncProvider
	policy   PollPolicy
	// mirror 非空时把 provider 的临时地址转存
	mirror ArtifactStore
	log    *zap.Logger
}

func NewReplicateSpeech(client *ProviderClient, provider AsyncProvider, policy PollPolicy, mirror ArtifactStore, log *zap.Logger) *ReplicateSpeech {
	return &ReplicateSpeech{client: client, provider: provider, policy: policy, mirror: mirror, log: log}
}

func (s *ReplicateSpeech) Name() string { return s.provider.Name() }

func (s *ReplicateSpeech) Synthesize(ctx context.Context, in SpeechInput, observe PollObserver) (string, error) {
	audioURL, err := s.client.Run(ctx, s.provider, map[string]interface{}{
		"text":     in.Text,
		"language": mmsLanguage(in.Voice),
	}, s.policy, observe)
	if err != nil {
		return "", err
	}
	if s.mirror == nil {
		return audioURL, nil
	}

	objectName := artifactObjectName(in.ProjectID, "audio", audioURL, ".wav")
	stored, err := s.mirror.Mirror(ctx, audioURL, objectName)
	if err != nil {
		return "", storageFailure("mirror audio", err)
	}
	s.log.Info("音频已转存", zap.String("project_id", in.ProjectID), zap.String("object", objectName))
	return stored, nil
}

// ElevenLabsSpeech ElevenLabs 同步合成，音频字节写入 ArtifactStore
type ElevenLabsSpeech struct {
	tts   *ElevenLabs
	model string
	store ArtifactStore
}

func NewElevenLabsSpeech(tts *ElevenLabs, model string, store ArtifactStore) *ElevenLabsSpeech {
	return &ElevenLabsSpeech{tts: tts, model: model, store: store}
}

func (s *ElevenLabsSpeech) Name() string { return s.tts.Name() }

func (s *ElevenLabsSpeech) Synthesize(ctx context.Context, in SpeechInput, observe PollObserver) (string, error) {
	audio, err := s.tts.TextToSpeech(ctx, in.Voice, in.Text, s.model)
	if err != nil {
		return "", err
	}
	if observe != nil {
		observe(1, 2)
	}
	if s.store == nil {
		return "", storageFailure("upload audio", errors.New("artifact storage not configured"))
	}

	objectName := fmt.Sprintf("projects/%s/audio.mp3", in.ProjectID)
	audioURL, err := s.store.Save(ctx, objectName, bytes.NewReader(audio), int64(len(audio)))
	if err != nil {
		return "", storageFailure("upload audio", err)
	}
	if observe != nil {
		observe(2, 2)
	}
	return audioURL, nil
}
