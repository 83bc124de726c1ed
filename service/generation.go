package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"TalkingAvatar-server/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrJobClosed 任务已到终态，不能再次执行
var ErrJobClosed = errors.New("processing job already closed")

// AudioRequest POST /generate-audio
type AudioRequest struct {
	ProjectID  string `json:"projectId"`
	Text       string `json:"text"`
	VoiceStyle string `json:"voiceStyle"`
}

func (r AudioRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ProjectID) == "" {
		missing = append(missing, "projectId")
	}
	if strings.TrimSpace(r.Text) == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(r.VoiceStyle) == "" {
		missing = append(missing, "voiceStyle")
	}
	if len(missing) > 0 {
		return missingParameter(missing...)
	}
	return nil
}

// VideoRequest POST /generate-video
type VideoRequest struct {
	ProjectID     string `json:"projectId"`
	Script        string `json:"script"`
	VoiceID       string `json:"voiceId"`
	AvatarID      string `json:"avatarId"`
	VideoProvider string `json:"videoProvider"`
}

func (r VideoRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ProjectID) == "" {
		missing = append(missing, "projectId")
	}
	if strings.TrimSpace(r.Script) == "" {
		missing = append(missing, "script")
	}
	if strings.TrimSpace(r.VoiceID) == "" {
		missing = append(missing, "voiceId")
	}
	if len(missing) > 0 {
		return missingParameter(missing...)
	}
	return nil
}

// Result 同步生成的返回体
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ProjectID string `json:"projectId"`
	JobID     string `json:"jobId"`
	AudioURL  string `json:"audioUrl,omitempty"`
	VideoURL  string `json:"videoUrl,omitempty"`
	Duration  int    `json:"duration"`
	Provider  string `json:"provider,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// Attempt 一次已登记（job 已创建、项目已进入 processing）的生成尝试
type Attempt struct {
	ProjectID string
	JobID     string
	Progress  *ProgressTracker
}

// GenerationService 生成请求的生命周期：登记 -> 编排 -> 落库 / 失败标记
type GenerationService struct {
	store          models.Store
	orch           *Orchestrator
	charsPerSecond int
	cancels        *CancelRegistry
	log            *zap.Logger
	now            func() time.Time
}

func NewGenerationService(store models.Store, orch *Orchestrator, charsPerSecond int, log *zap.Logger) *GenerationService {
	if charsPerSecond <= 0 {
		charsPerSecond = 15
	}
	return &GenerationService{
		store:          store,
		orch:           orch,
		charsPerSecond: charsPerSecond,
		cancels:        NewCancelRegistry(),
		log:            log,
		now:            time.Now,
	}
}

// Shutdown 取消本进程内所有正在执行的生成，返回取消数量
func (s *GenerationService) Shutdown() int {
	return s.cancels.CancelAll()
}

// EstimateDuration 按字符数估算时长（秒，向上取整）
func (s *GenerationService) EstimateDuration(text string) int {
	n := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(n) / float64(s.charsPerSecond)))
}

// Begin 校验项目存在，创建进度为 10 的 job，并把项目置为 processing
func (s *GenerationService) Begin(ctx context.Context, projectID string) (*Attempt, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	job := &models.ProcessingJob{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    models.JobStatusProcessing,
		Progress:  ProgressJobCreated,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create processing job: %w", err)
	}
	if err := s.store.MarkProjectProcessing(ctx, projectID); err != nil {
		err = fmt.Errorf("mark project processing: %w", err)
		s.MarkFailed(ctx, projectID, job.ID, err)
		return nil, err
	}

	s.log.Info("generation started", zap.String("project_id", projectID), zap.String("job_id", job.ID))
	return &Attempt{
		ProjectID: projectID,
		JobID:     job.ID,
		Progress:  NewProgressTracker(s.store, job.ID, job.Progress, s.log),
	}, nil
}

// Resume 队列 worker 接手一个已登记的 job
func (s *GenerationService) Resume(ctx context.Context, jobID string) (*Attempt, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobClosed, jobID, job.Status)
	}
	return &Attempt{
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Progress:  NewProgressTracker(s.store, job.ID, job.Progress, s.log),
	}, nil
}

// GenerateAudio 同步生成音频
func (s *GenerationService) GenerateAudio(ctx context.Context, req AudioRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	att, err := s.Begin(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.RunAudio(ctx, att, req)
}

func (s *GenerationService) RunAudio(ctx context.Context, att *Attempt, req AudioRequest) (*Result, error) {
	ctx, release := s.cancels.Track(ctx, att.JobID)
	defer release()

	out, err := s.orch.RunAudio(ctx, att.Progress, SpeechInput{
		ProjectID: att.ProjectID,
		Text:      req.Text,
		Voice:     req.VoiceStyle,
	})
	if err != nil {
		s.MarkFailed(ctx, att.ProjectID, att.JobID, err)
		return nil, err
	}

	duration := s.EstimateDuration(req.Text)
	if err := s.finish(ctx, att, out.AudioURL, duration); err != nil {
		return nil, err
	}
	return &Result{
		Success:   true,
		Message:   "Audio generated successfully",
		ProjectID: att.ProjectID,
		JobID:     att.JobID,
		AudioURL:  out.AudioURL,
		Duration:  duration,
	}, nil
}

// GenerateVideo 同步生成说话头像视频（动画不可用时降级为音频）
func (s *GenerationService) GenerateVideo(ctx context.Context, req VideoRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	att, err := s.Begin(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.RunVideo(ctx, att, req)
}

func (s *GenerationService) RunVideo(ctx context.Context, att *Attempt, req VideoRequest) (*Result, error) {
	ctx, release := s.cancels.Track(ctx, att.JobID)
	defer release()

	out, err := s.orch.RunVideo(ctx, att.Progress, VideoInput{
		ProjectID: att.ProjectID,
		Script:    req.Script,
		VoiceID:   req.VoiceID,
		AvatarID:  req.AvatarID,
		Provider:  req.VideoProvider,
	})
	if err != nil {
		s.MarkFailed(ctx, att.ProjectID, att.JobID, err)
		return nil, err
	}

	duration := s.EstimateDuration(req.Script)
	if err := s.finish(ctx, att, out.ResultURL(), duration); err != nil {
		return nil, err
	}

	res := &Result{
		Success:   true,
		ProjectID: att.ProjectID,
		JobID:     att.JobID,
		AudioURL:  out.AudioURL,
		VideoURL:  out.ResultURL(),
		Duration:  duration,
		Provider:  out.Provider,
		Degraded:  out.Degraded,
	}
	if out.Degraded {
		res.Message = fmt.Sprintf("Audio generated successfully; avatar video unavailable, returning audio-only fallback (%s)", out.Reason)
	} else {
		res.Message = "Talking avatar video generated successfully with " + out.Provider
	}
	return res, nil
}

// finish 先写项目结果，再关闭 job
func (s *GenerationService) finish(ctx context.Context, att *Attempt, resultURL string, duration int) error {
	if err := s.store.CompleteProject(ctx, att.ProjectID, resultURL, duration); err != nil {
		err = fmt.Errorf("save project result: %w", err)
		s.MarkFailed(ctx, att.ProjectID, att.JobID, err)
		return err
	}
	if err := att.Progress.Complete(ctx); err != nil {
		s.log.Error("关闭 job 失败", zap.String("job_id", att.JobID), zap.Error(err))
	}
	s.log.Info("generation completed", zap.String("project_id", att.ProjectID), zap.String("job_id", att.JobID))
	return nil
}

// MarkFailed 尽力把项目和 job 标记为失败，写库错误只记录日志。
// jobID 为空时关闭该项目所有未结束的 job。
func (s *GenerationService) MarkFailed(ctx context.Context, projectID, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.log.Error("generation failed",
		zap.String("project_id", projectID),
		zap.String("job_id", jobID),
		zap.Error(cause))

	if err := s.store.FailProject(ctx, projectID); err != nil {
		s.log.Error("标记项目失败状态出错", zap.String("project_id", projectID), zap.Error(err))
	}

	jobIDs := []string{jobID}
	if jobID == "" {
		jobIDs = jobIDs[:0]
		open, err := s.store.OpenJobs(ctx, projectID)
		if err != nil {
			s.log.Error("查询未结束 job 出错", zap.String("project_id", projectID), zap.Error(err))
		}
		for _, j := range open {
			jobIDs = append(jobIDs, j.ID)
		}
	}
	for _, id := range jobIDs {
		if err := s.store.FailJob(ctx, id, cause.Error(), s.now()); err != nil {
			s.log.Error("标记 job 失败状态出错", zap.String("job_id", id), zap.Error(err))
		}
	}
}
