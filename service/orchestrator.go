package service

import (
	"context"
	"fmt"

	"TalkingAvatar-server/models"

	"go.uber.org/zap"
)

// Stage 一次生成尝试所处的阶段
type Stage string

const (
	StageInitialized            Stage = "initialized"
	StageSynthesizingSpeech     Stage = "synthesizing_speech"
	StageSynthesizingSpeechDone Stage = "synthesizing_speech_done"
	StageAnimatingAvatar        Stage = "animating_avatar"
	StageAnimatingAvatarDone    Stage = "animating_avatar_done"
	StageCompleted              Stage = "completed"
	StageCompletedDegraded      Stage = "completed_degraded"
	StageFailed                 Stage = "failed"
)

// 各阶段的进度区间
var (
	audioSpeechBand = progressBand{from: 20, to: 90}
	videoSpeechBand = progressBand{from: 20, to: 50}
	animationBand   = progressBand{from: 60, to: 90}
)

// AvatarSource 头像查询
type AvatarSource interface {
	GetAvatar(ctx context.Context, id string) (*models.Avatar, error)
}

// Outcome 一次编排的结果
type Outcome struct {
	Stages   []Stage
	AudioURL string
	VideoURL string
	// Provider 产出视频的动画 provider
	Provider string
	Degraded bool
	// Reason 降级原因
	Reason    string
	Animation []StepResult
}

// Stage 当前（最后）阶段
func (o *Outcome) Stage() Stage {
	if len(o.Stages) == 0 {
		return ""
	}
	return o.Stages[len(o.Stages)-1]
}

// ResultURL 有视频用视频，否则音频（降级）
func (o *Outcome) ResultURL() string {
	if o.VideoURL != "" {
		return o.VideoURL
	}
	return o.AudioURL
}

// Orchestrator 语音合成 -> 头像动画，动画失败时降级为纯音频
type Orchestrator struct {
	audioSpeech   SpeechSynthesizer
	videoSpeech   SpeechSynthesizer
	animation     *AnimationChain
	avatars       AvatarSource
	defaultAvatar string
	log           *zap.Logger
}

type OrchestratorOptions struct {
	// AudioSpeech 纯音频生成使用的合成器
	AudioSpeech SpeechSynthesizer
	// VideoSpeech 视频生成第一步使用的合成器
	VideoSpeech        SpeechSynthesizer
	Animation          *AnimationChain
	Avatars            AvatarSource
	DefaultAvatarImage string
	Log                *zap.Logger
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		audioSpeech:   opts.AudioSpeech,
		videoSpeech:   opts.VideoSpeech,
		animation:     opts.Animation,
		avatars:       opts.Avatars,
		defaultAvatar: opts.DefaultAvatarImage,
		log:           opts.Log,
	}
}

func (o *Orchestrator) enter(out *Outcome, projectID string, stage Stage) {
	out.Stages = append(out.Stages, stage)
	o.log.Info("generation stage", zap.String("project_id", projectID), zap.String("stage", string(stage)))
}

// RunAudio 只做语音合成
func (o *Orchestrator) RunAudio(ctx context.Context, progress *ProgressTracker, in SpeechInput) (*Outcome, error) {
	out := &Outcome{}
	o.enter(out, in.ProjectID, StageInitialized)
	o.enter(out, in.ProjectID, StageSynthesizingSpeech)
	progress.Advance(ctx, audioSpeechBand.from)

	audioURL, err := o.audioSpeech.Synthesize(ctx, in, audioSpeechBand.observer(ctx, progress))
	if err != nil {
		o.enter(out, in.ProjectID, StageFailed)
		return out, fmt.Errorf("speech synthesis: %w", err)
	}
	out.AudioURL = audioURL
	progress.Advance(ctx, audioSpeechBand.to)
	o.enter(out, in.ProjectID, StageSynthesizingSpeechDone)
	o.enter(out, in.ProjectID, StageCompleted)
	return out, nil
}

// VideoInput 说话头像视频的输入
type VideoInput struct {
	ProjectID string
	Script    string
	VoiceID   string
	AvatarID  string
	// Provider 优先尝试的动画 provider，可为空
	Provider string
}

// RunVideo 语音合成失败即失败；动画全部失败则降级为音频结果
func (o *Orchestrator) RunVideo(ctx context.Context, progress *ProgressTracker, in VideoInput) (*Outcome, error) {
	out := &Outcome{}
	o.enter(out, in.ProjectID, StageInitialized)
	o.enter(out, in.ProjectID, StageSynthesizingSpeech)
	progress.Advance(ctx, videoSpeechBand.from)

	audioURL, err := o.videoSpeech.Synthesize(ctx, SpeechInput{
		ProjectID: in.ProjectID,
		Text:      in.Script,
		Voice:     in.VoiceID,
	}, videoSpeechBand.observer(ctx, progress))
	if err != nil {
		o.enter(out, in.ProjectID, StageFailed)
		return out, fmt.Errorf("speech synthesis: %w", err)
	}
	out.AudioURL = audioURL
	progress.Advance(ctx, videoSpeechBand.to)
	o.enter(out, in.ProjectID, StageSynthesizingSpeechDone)

	image := o.resolveAvatar(ctx, in.AvatarID)
	o.enter(out, in.ProjectID, StageAnimatingAvatar)
	progress.Advance(ctx, animationBand.from)

	var results []StepResult
	if o.animation != nil {
		results, err = o.animation.Run(ctx, in.Provider, AnimationInput{
			ProjectID: in.ProjectID,
			AudioURL:  audioURL,
			ImageURL:  image,
		}, animationBand.observer(ctx, progress))
		if err != nil {
			out.Animation = results
			o.enter(out, in.ProjectID, StageFailed)
			return out, fmt.Errorf("avatar animation: %w", err)
		}
	}
	out.Animation = results

	if win, ok := winner(results); ok {
		out.VideoURL = win.ArtifactURL
		out.Provider = win.Provider
		progress.Advance(ctx, animationBand.to)
		o.enter(out, in.ProjectID, StageAnimatingAvatarDone)
		o.enter(out, in.ProjectID, StageCompleted)
		return out, nil
	}

	out.Degraded = true
	out.Reason = degradeReason(results)
	o.log.Warn("头像动画不可用，降级为纯音频",
		zap.String("project_id", in.ProjectID),
		zap.String("reason", out.Reason))
	o.enter(out, in.ProjectID, StageCompletedDegraded)
	return out, nil
}

// resolveAvatar 启用中的头像图片，否则默认图片；查询失败不影响流程
func (o *Orchestrator) resolveAvatar(ctx context.Context, avatarID string) string {
	if avatarID == "" || o.avatars == nil {
		return o.defaultAvatar
	}
	avatar, err := o.avatars.GetAvatar(ctx, avatarID)
	if err != nil {
		o.log.Warn("查询头像失败，使用默认头像", zap.String("avatar_id", avatarID), zap.Error(err))
		return o.defaultAvatar
	}
	if !avatar.IsActive || avatar.ImageURL == "" {
		return o.defaultAvatar
	}
	return avatar.ImageURL
}
