package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DID D-ID talks API
type DID struct {
	apiKey  string
	baseURL string
}

func NewDID(apiKey, baseURL string) *DID {
	return &DID{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

func (d *DID) Name() string { return "did" }

func (d *DID) Configured() bool { return d.apiKey != "" }

func (d *DID) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+d.apiKey)
}

// SubmitRequest input 需要 source_url 和 audio_url
func (d *DID) SubmitRequest(ctx context.Context, input map[string]interface{}) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, d.baseURL+"/talks", map[string]interface{}{
		"source_url": input["source_url"],
		"script": map[string]interface{}{
			"type":      "audio",
			"audio_url": input["audio_url"],
		},
	})
	if err != nil {
		return nil, err
	}
	d.authorize(req)
	return req, nil
}

func (d *DID) DecodeSubmit(body []byte) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode talk: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("talk id missing")
	}
	return resp.ID, nil
}

func (d *DID) StatusRequest(ctx context.Context, handle string) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, d.baseURL+"/talks/"+handle, nil)
	if err != nil {
		return nil, err
	}
	d.authorize(req)
	return req, nil
}

func (d *DID) DecodeStatus(body []byte) (JobStatus, error) {
	var talk struct {
		Status    string `json:"status"`
		ResultURL string `json:"result_url"`
		Error     *struct {
			Kind        string `json:"kind"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &talk); err != nil {
		return JobStatus{}, fmt.Errorf("decode talk: %w", err)
	}
	switch talk.Status {
	case "done":
		return JobStatus{State: JobSucceeded, ArtifactURL: talk.ResultURL}, nil
	case "error", "rejected":
		detail := talk.Status
		if talk.Error != nil {
			detail = strings.TrimSpace(talk.Error.Kind + " " + talk.Error.Description)
		}
		return JobStatus{State: JobFailed, ErrorDetail: detail}, nil
	}
	return JobStatus{State: JobRunning}, nil
}
