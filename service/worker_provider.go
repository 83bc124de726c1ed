package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// WorkerProvider 自建 GPU worker：POST /v1/generate 提交，GET /v1/jobs/{id} 查询
type WorkerProvider struct {
	addr     string
	taskType string
}

func NewWorkerProvider(addr, taskType string) *WorkerProvider {
	return &WorkerProvider{addr: strings.TrimRight(addr, "/"), taskType: taskType}
}

func (w *WorkerProvider) Name() string { return "worker" }

func (w *WorkerProvider) Configured() bool { return w.addr != "" }

func (w *WorkerProvider) SubmitRequest(ctx context.Context, input map[string]interface{}) (*http.Request, error) {
	body := map[string]interface{}{
		"id":         uuid.NewString(),
		"type":       w.taskType,
		"parameters": input,
	}
	if pid, ok := input["project_id"]; ok {
		body["project_id"] = pid
	}
	return newJSONRequest(ctx, http.MethodPost, w.addr+"/v1/generate", body)
}

// DecodeSubmit 优先取根节点 id，其次 job_id
func (w *WorkerProvider) DecodeSubmit(body []byte) (string, error) {
	var respData map[string]interface{}
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if id := getString(respData, "id"); id != "" {
		return id, nil
	}
	if id := getString(respData, "job_id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

func (w *WorkerProvider) StatusRequest(ctx context.Context, handle string) (*http.Request, error) {
	return newJSONRequest(ctx, http.MethodGet, w.addr+"/v1/jobs/"+handle, nil)
}

func (w *WorkerProvider) DecodeStatus(body []byte) (JobStatus, error) {
	var raw struct {
		Status string `json:"status"`
		Result struct {
			ResourceURL string `json:"resource_url"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return JobStatus{}, fmt.Errorf("decode job failed: %w", err)
	}
	// worker 的状态字符串不统一，兼容多种写法
	switch raw.Status {
	case "finished", "success", "completed", "succeeded":
		return JobStatus{State: JobSucceeded, ArtifactURL: raw.Result.ResourceURL}, nil
	case "failed", "error":
		return JobStatus{State: JobFailed, ErrorDetail: raw.Error}, nil
	}
	return JobStatus{State: JobRunning}, nil
}

// 工具函数：安全获取 string
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
