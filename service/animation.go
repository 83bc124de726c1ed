package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// AnimationInput 音频 + 头像图片 -> 说话视频
type AnimationInput struct {
	ProjectID string
	AudioURL  string
	ImageURL  string
}

// Animator 一种头像动画策略
type Animator interface {
	Name() string
	Animate(ctx context.Context, in AnimationInput, observe PollObserver) (string, error)
}

// asyncAnimator 基于 AsyncProvider 的动画策略，不同 provider 只在请求参数上不同
type asyncAnimator struct {
	name     string
	client   *ProviderClient
	provider AsyncProvider
	policy   PollPolicy
	input    func(in AnimationInput) map[string]interface{}
	mirror   ArtifactStore
}

func (a *asyncAnimator) Name() string { return a.name }

func (a *asyncAnimator) Animate(ctx context.Context, in AnimationInput, observe PollObserver) (string, error) {
	videoURL, err := a.client.Run(ctx, a.provider, a.input(in), a.policy, observe)
	if err != nil {
		return "", err
	}
	if a.mirror == nil {
		return videoURL, nil
	}
	stored, err := a.mirror.Mirror(ctx, videoURL, artifactObjectName(in.ProjectID, "video", videoURL, ".mp4"))
	if err != nil {
		return "", storageFailure("mirror video", err)
	}
	return stored, nil
}

func sadTalkerInput(in AnimationInput) map[string]interface{} {
	return map[string]interface{}{
		"source_image": in.ImageURL,
		"driven_audio": in.AudioURL,
		"still":        false,
		"preprocess":   "crop",
		"enhancer":     "gfpgan",
	}
}

// NewSadTalkerAnimator Replicate SadTalker 主版本
func NewSadTalkerAnimator(client *ProviderClient, provider AsyncProvider, policy PollPolicy, mirror ArtifactStore) Animator {
	return &asyncAnimator{name: "sadtalker", client: client, provider: provider, policy: policy, input: sadTalkerInput, mirror: mirror}
}

// NewSadTalkerAltAnimator 备用版本，只传必需参数
func NewSadTalkerAltAnimator(client *ProviderClient, provider AsyncProvider, policy PollPolicy, mirror ArtifactStore) Animator {
	return &asyncAnimator{
		name:     "sadtalker-alt",
		client:   client,
		provider: provider,
		policy:   policy,
		input: func(in AnimationInput) map[string]interface{} {
			return map[string]interface{}{
				"source_image": in.ImageURL,
				"driven_audio": in.AudioURL,
			}
		},
		mirror: mirror,
	}
}

func NewDIDAnimator(client *ProviderClient, provider AsyncProvider, policy PollPolicy, mirror ArtifactStore) Animator {
	return &asyncAnimator{
		name:     "did",
		client:   client,
		provider: provider,
		policy:   policy,
		input: func(in AnimationInput) map[string]interface{} {
			return map[string]interface{}{
				"source_url": in.ImageURL,
				"audio_url":  in.AudioURL,
			}
		},
		mirror: mirror,
	}
}

func NewWorkerAnimator(client *ProviderClient, provider AsyncProvider, policy PollPolicy, mirror ArtifactStore) Animator {
	return &asyncAnimator{
		name:     "worker",
		client:   client,
		provider: provider,
		policy:   policy,
		input: func(in AnimationInput) map[string]interface{} {
			return map[string]interface{}{
				"project_id": in.ProjectID,
				"image_url":  in.ImageURL,
				"audio_url":  in.AudioURL,
			}
		},
		mirror: mirror,
	}
}

type StepStatus string

const (
	StepSucceeded   StepStatus = "succeeded"
	StepUnavailable StepStatus = "unavailable"
	StepFailed      StepStatus = "failed"
)

// StepResult 单个 provider 尝试的结果，每次尝试独立产生
type StepResult struct {
	Provider    string     `json:"provider"`
	Status      StepStatus `json:"status"`
	ArtifactURL string     `json:"artifactUrl,omitempty"`
	Err         error      `json:"-"`
}

func (r StepResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", r.Provider, r.Status, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Provider, r.Status)
}

// AnimationChain 按顺序尝试动画 provider，第一个成功即停止
type AnimationChain struct {
	animators []Animator
	log       *zap.Logger
}

func NewAnimationChain(log *zap.Logger, animators ...Animator) *AnimationChain {
	return &AnimationChain{animators: animators, log: log}
}

// Order 返回尝试顺序；preferred 命中时排到最前
func (c *AnimationChain) Order(preferred string) []Animator {
	ordered := make([]Animator, 0, len(c.animators))
	for _, a := range c.animators {
		if preferred != "" && a.Name() == preferred {
			ordered = append(ordered, a)
		}
	}
	for _, a := range c.animators {
		if preferred == "" || a.Name() != preferred {
			ordered = append(ordered, a)
		}
	}
	return ordered
}

// fatalAnimationError provider 明确报告失败或转存失败时不再降级
func fatalAnimationError(err error) bool {
	return errors.Is(err, ErrProviderGenerationFailed) || errors.Is(err, ErrStorageFailure)
}

// Run 依次尝试。不可用、被拒绝、超时进入下一个 provider；
// 明确失败、转存失败和 ctx 取消直接返回错误。
func (c *AnimationChain) Run(ctx context.Context, preferred string, in AnimationInput, observe PollObserver) ([]StepResult, error) {
	var results []StepResult
	for _, a := range c.Order(preferred) {
		videoURL, err := a.Animate(ctx, in, observe)
		if err == nil {
			results = append(results, StepResult{Provider: a.Name(), Status: StepSucceeded, ArtifactURL: videoURL})
			return results, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, ctxErr
		}

		step := StepResult{Provider: a.Name(), Status: StepFailed, Err: err}
		if errors.Is(err, ErrProviderUnavailable) {
			step.Status = StepUnavailable
		}
		results = append(results, step)
		if fatalAnimationError(err) {
			return results, err
		}
		c.log.Warn("头像动画 provider 失败，尝试下一个",
			zap.String("project_id", in.ProjectID),
			zap.String("provider", a.Name()),
			zap.String("status", string(step.Status)),
			zap.Error(err))
	}
	return results, nil
}

// winner 最后一个结果是否成功
func winner(results []StepResult) (StepResult, bool) {
	if len(results) == 0 {
		return StepResult{}, false
	}
	last := results[len(results)-1]
	return last, last.Status == StepSucceeded
}

// degradeReason 汇总所有失败尝试
func degradeReason(results []StepResult) string {
	if len(results) == 0 {
		return "no animation provider configured"
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s %s", r.Provider, r.Status))
	}
	return strings.Join(parts, ", ")
}
