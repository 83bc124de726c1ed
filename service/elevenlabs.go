package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// previewMaxRunes 试听文本最多取前 100 个字符
const previewMaxRunes = 100

// ElevenLabs 同步 TTS：一次请求直接返回音频字节
type ElevenLabs struct {
	client  *ProviderClient
	apiKey  string
	baseURL string
}

func NewElevenLabs(client *ProviderClient, apiKey, baseURL string) *ElevenLabs {
	return &ElevenLabs{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Configured() bool { return e.apiKey != "" }

// TextToSpeech 返回 mp3 音频
func (e *ElevenLabs) TextToSpeech(ctx context.Context, voiceID, text, model string) ([]byte, error) {
	if !e.Configured() {
		return nil, &ProviderError{Op: "tts", Provider: e.Name(), Err: ErrProviderUnavailable, Detail: "credential not configured"}
	}
	req, err := newJSONRequest(ctx, http.MethodPost, e.baseURL+"/v1/text-to-speech/"+url.PathEscape(voiceID), map[string]interface{}{
		"text":     text,
		"model_id": model,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.5,
		},
	})
	if err != nil {
		return nil, &ProviderError{Op: "tts", Provider: e.Name(), Err: ErrProviderRejected, Detail: err.Error()}
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	audio, err := e.client.Do(req, e.Name(), "tts")
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, &ProviderError{Op: "tts", Provider: e.Name(), Err: ErrProviderGenerationFailed, Detail: "empty audio"}
	}
	return audio, nil
}

// VoicePreviewer 生成试听片段，不落库不写存储
type VoicePreviewer struct {
	tts   *ElevenLabs
	model string
}

func NewVoicePreviewer(tts *ElevenLabs, model string) *VoicePreviewer {
	return &VoicePreviewer{tts: tts, model: model}
}

// Preview 截断到 100 个字符后合成
func (v *VoicePreviewer) Preview(ctx context.Context, voiceID, text string) ([]byte, error) {
	var missing []string
	if strings.TrimSpace(voiceID) == "" {
		missing = append(missing, "voiceId")
	}
	if strings.TrimSpace(text) == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return nil, missingParameter(missing...)
	}
	return v.tts.TextToSpeech(ctx, voiceID, truncateRunes(text, previewMaxRunes), v.model)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
