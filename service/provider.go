package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// provider 响应体上限（ElevenLabs 直接返回音频）
	maxProviderBody = 50 << 20
	// 错误详情截断长度
	maxErrorDetail = 2000
)

type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// JobStatus 一次状态查询的结果
type JobStatus struct {
	State       JobState
	ArtifactURL string
	ErrorDetail string
}

// AsyncProvider 一个 "提交任务 -> 轮询状态" 形态的外部生成服务。
// 只负责构造请求与解析响应，HTTP 执行与重试由 ProviderClient 统一处理。
type AsyncProvider interface {
	Name() string
	// Configured 凭证/地址是否齐全
	Configured() bool
	SubmitRequest(ctx context.Context, input map[string]interface{}) (*http.Request, error)
	DecodeSubmit(body []byte) (string, error)
	StatusRequest(ctx context.Context, handle string) (*http.Request, error)
	DecodeStatus(body []byte) (JobStatus, error)
}

// ProviderClient 对任意 AsyncProvider 执行提交、单次查询和阻塞等待
type ProviderClient struct {
	HTTP  *http.Client
	Clock Clock
	Log   *zap.Logger
	// MaxBody 响应体上限，超出视为被拒绝
	MaxBody int64
}

func NewProviderClient(timeout time.Duration, log *zap.Logger) *ProviderClient {
	return &ProviderClient{
		HTTP:    &http.Client{Timeout: timeout},
		Clock:   RealClock,
		Log:     log,
		MaxBody: maxProviderBody,
	}
}

func truncate(s string) string {
	if len(s) > maxErrorDetail {
		return s[:maxErrorDetail] + "..."
	}
	return s
}

// Do 执行请求；非 2xx 返回 ErrProviderRejected 并附带原始响应文本
func (c *ProviderClient) Do(req *http.Request, provider, op string) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProviderError{Op: op, Provider: provider, Err: ErrProviderRejected, Detail: err.Error()}
	}
	defer resp.Body.Close()

	limit := c.MaxBody
	if limit <= 0 {
		limit = maxProviderBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &ProviderError{Op: op, Provider: provider, StatusCode: resp.StatusCode, Err: ErrProviderRejected, Detail: "read body: " + err.Error()}
	}
	if int64(len(body)) > limit {
		return nil, &ProviderError{Op: op, Provider: provider, StatusCode: resp.StatusCode, Err: ErrProviderRejected, Detail: fmt.Sprintf("response body exceeds %d bytes", limit)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Op: op, Provider: provider, StatusCode: resp.StatusCode, Err: ErrProviderRejected, Detail: truncate(string(body))}
	}
	return body, nil
}

// Submit 创建外部任务，返回外部 job handle
func (c *ProviderClient) Submit(ctx context.Context, p AsyncProvider, input map[string]interface{}) (string, error) {
	if !p.Configured() {
		return "", &ProviderError{Op: "submit", Provider: p.Name(), Err: ErrProviderUnavailable, Detail: "credential not configured"}
	}
	req, err := p.SubmitRequest(ctx, input)
	if err != nil {
		return "", &ProviderError{Op: "submit", Provider: p.Name(), Err: ErrProviderRejected, Detail: "build request: " + err.Error()}
	}
	body, err := c.Do(req, p.Name(), "submit")
	if err != nil {
		return "", err
	}
	handle, err := p.DecodeSubmit(body)
	if err != nil {
		return "", &ProviderError{Op: "submit", Provider: p.Name(), Err: ErrProviderRejected, Detail: truncate(fmt.Sprintf("%v: %s", err, body))}
	}
	c.Log.Info("provider job submitted", zap.String("provider", p.Name()), zap.String("handle", handle))
	return handle, nil
}

// Poll 查询一次外部任务状态
func (c *ProviderClient) Poll(ctx context.Context, p AsyncProvider, handle string) (JobStatus, error) {
	if !p.Configured() {
		return JobStatus{}, &ProviderError{Op: "poll", Provider: p.Name(), Err: ErrProviderUnavailable, Detail: "credential not configured"}
	}
	req, err := p.StatusRequest(ctx, handle)
	if err != nil {
		return JobStatus{}, &ProviderError{Op: "poll", Provider: p.Name(), Err: ErrProviderRejected, Detail: "build request: " + err.Error()}
	}
	body, err := c.Do(req, p.Name(), "poll")
	if err != nil {
		return JobStatus{}, err
	}
	st, err := p.DecodeStatus(body)
	if err != nil {
		return JobStatus{}, &ProviderError{Op: "poll", Provider: p.Name(), Err: ErrProviderRejected, Detail: truncate(fmt.Sprintf("%v: %s", err, body))}
	}
	return st, nil
}

// AwaitCompletion 按固定间隔轮询直到成功（返回产物地址）、失败或超时。
// 状态接口本身出错视为暂时性错误，继续下一次轮询。
func (c *ProviderClient) AwaitCompletion(ctx context.Context, p AsyncProvider, handle string, policy PollPolicy, observe PollObserver) (string, error) {
	var artifact string
	notify := func(attempt int) {
		if observe != nil {
			observe(attempt, policy.MaxAttempts)
		}
	}

	err := PollUntil(ctx, c.Clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		st, err := c.Poll(ctx, p, handle)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			c.Log.Warn("轮询失败(重试中)",
				zap.String("provider", p.Name()),
				zap.String("handle", handle),
				zap.Int("attempt", attempt),
				zap.Error(err))
			notify(attempt)
			return false, nil
		}

		switch st.State {
		case JobSucceeded:
			if st.ArtifactURL == "" {
				return false, &ProviderError{Op: "generate", Provider: p.Name(), Err: ErrProviderGenerationFailed, Detail: "succeeded without output"}
			}
			artifact = st.ArtifactURL
			return true, nil
		case JobFailed:
			detail := st.ErrorDetail
			if detail == "" {
				detail = "unknown error"
			}
			return false, &ProviderError{Op: "generate", Provider: p.Name(), Err: ErrProviderGenerationFailed, Detail: detail}
		}

		c.Log.Debug("provider job running",
			zap.String("provider", p.Name()),
			zap.String("handle", handle),
			zap.Int("attempt", attempt))
		notify(attempt)
		return false, nil
	})

	if errors.Is(err, ErrPollExhausted) {
		return "", &ProviderError{
			Op:       "await",
			Provider: p.Name(),
			Err:      ErrProviderTimeout,
			Detail:   fmt.Sprintf("no result after %d attempts (%s)", policy.MaxAttempts, policy.Budget()),
		}
	}
	if err != nil {
		return "", err
	}
	return artifact, nil
}

// Run Submit + AwaitCompletion
func (c *ProviderClient) Run(ctx context.Context, p AsyncProvider, input map[string]interface{}, policy PollPolicy, observe PollObserver) (string, error) {
	handle, err := c.Submit(ctx, p, input)
	if err != nil {
		return "", err
	}
	return c.AwaitCompletion(ctx, p, handle, policy, observe)
}

// newJSONRequest 构造带 JSON body 的请求
func newJSONRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
