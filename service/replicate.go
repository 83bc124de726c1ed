package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Replicate predictions API 适配器。TTS、SadTalker 主版本、备用版本各自一个实例，
// 共用同一个 API key，只是 model version 不同。
type Replicate struct {
	name    string
	apiKey  string
	baseURL string
	version string
}

func NewReplicate(name, apiKey, baseURL, version string) *Replicate {
	return &Replicate{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
	}
}

func (r *Replicate) Name() string { return r.name }

func (r *Replicate) Configured() bool {
	return r.apiKey != "" && r.version != ""
}

func (r *Replicate) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Token "+r.apiKey)
}

func (r *Replicate) SubmitRequest(ctx context.Context, input map[string]interface{}) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, r.baseURL+"/v1/predictions", map[string]interface{}{
		"version": r.version,
		"input":   input,
	})
	if err != nil {
		return nil, err
	}
	r.authorize(req)
	return req, nil
}

func (r *Replicate) DecodeSubmit(body []byte) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode prediction: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("prediction id missing")
	}
	return resp.ID, nil
}

func (r *Replicate) StatusRequest(ctx context.Context, handle string) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, r.baseURL+"/v1/predictions/"+handle, nil)
	if err != nil {
		return nil, err
	}
	r.authorize(req)
	return req, nil
}

type replicatePrediction struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

func (r *Replicate) DecodeStatus(body []byte) (JobStatus, error) {
	var p replicatePrediction
	if err := json.Unmarshal(body, &p); err != nil {
		return JobStatus{}, fmt.Errorf("decode prediction: %w", err)
	}
	switch p.Status {
	case "succeeded":
		return JobStatus{State: JobSucceeded, ArtifactURL: firstOutput(p.Output)}, nil
	case "failed":
		return JobStatus{State: JobFailed, ErrorDetail: rawText(p.Error)}, nil
	case "canceled":
		return JobStatus{State: JobFailed, ErrorDetail: "prediction canceled"}, nil
	default:
		// starting / processing
		return JobStatus{State: JobRunning}, nil
	}
}

// firstOutput output 可能是字符串，也可能是字符串数组（取第一个）
func firstOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
