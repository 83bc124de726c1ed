package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TalkingAvatar-server/models"
	"TalkingAvatar-server/routers/api"
	"TalkingAvatar-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSpeech struct{ url string }

func (s staticSpeech) Name() string { return "static" }

func (s staticSpeech) Synthesize(context.Context, service.SpeechInput, service.PollObserver) (string, error) {
	return s.url, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []service.GenerationPayload
}

func (q *fakeQueue) Enqueue(_ context.Context, p service.GenerationPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

type testServer struct {
	store  *models.MemoryStore
	engine *gin.Engine
	h      *api.Handler
}

func newTestServer(t *testing.T, limiter *service.RateLimiter) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := models.NewMemoryStore()
	orch := service.NewOrchestrator(service.OrchestratorOptions{
		AudioSpeech: staticSpeech{url: "https://cdn.test/speech.wav"},
		VideoSpeech: staticSpeech{url: "https://storage.test/audio.mp3"},
		Animation:   service.NewAnimationChain(log),
		Avatars:     store,
		Log:         log,
	})
	h := &api.Handler{
		Store: store,
		Gen:   service.NewGenerationService(store, orch, 15, log),
		Preview: service.NewVoicePreviewer(
			service.NewElevenLabs(service.NewProviderClient(time.Second, log), "", "http://unused.test"),
			"eleven_turbo_v2",
		),
		Providers:      []string{"replicate"},
		Log:            log,
		WSPollInterval: 10 * time.Millisecond,
	}
	return &testServer{
		store:  store,
		h:      h,
		engine: InitRouter(h, Options{Limiter: limiter, Log: log}),
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) seed(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, s.store.CreateProject(context.Background(), &models.Project{ID: id, Title: "demo", Status: models.ProjectStatusDraft}))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGenerateAudioEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "p1")

	w := s.do(http.MethodPost, "/v1/api/generate-audio", `{"projectId":"p1","text":"Hello world","voiceStyle":"normal"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://cdn.test/speech.wav", body["audioUrl"])
	assert.Equal(t, float64(1), body["duration"])
}

func TestGenerateErrors(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "p1")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"missing text", "/v1/api/generate-audio", `{"projectId":"p1"}`, http.StatusBadRequest},
		{"missing voice style", "/v1/api/generate-audio", `{"projectId":"p1","text":"Hi"}`, http.StatusBadRequest},
		{"missing voice", "/v1/api/generate-video", `{"projectId":"p1","script":"Hi"}`, http.StatusBadRequest},
		{"malformed body", "/v1/api/generate-video", `{`, http.StatusBadRequest},
		{"unknown project", "/v1/api/generate-audio", `{"projectId":"nope","text":"Hi","voiceStyle":"normal"}`, http.StatusNotFound},
		{"async disabled", "/v1/api/generate-audio?async=true", `{"projectId":"p1","text":"Hi","voiceStyle":"normal"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}

	p, err := s.store.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDraft, p.Status)
}

func TestGenerateVideoDegradedEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed(t, "p2")

	w := s.do(http.MethodPost, "/v1/api/generate-video", `{"projectId":"p2","script":"Hi","voiceId":"v1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://storage.test/audio.mp3", body["videoUrl"])
	assert.Contains(t, body["message"], "audio-only fallback")
}

func TestGenerateAsync(t *testing.T) {
	s := newTestServer(t, nil)
	q := &fakeQueue{}
	s.h.Queue = q
	s.seed(t, "p1")

	w := s.do(http.MethodPost, "/v1/api/generate-video?async=true", `{"projectId":"p1","script":"Hi","voiceId":"v1"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, jobID, q.payloads[0].JobID)
	assert.Equal(t, service.GenerationKindVideo, q.payloads[0].Kind)

	job, err := s.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, service.ProgressJobCreated, job.Progress)
}

func TestVoicePreviewEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/v1/api/voice-preview", `{"voiceId":"v1","text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["fallback"])
	assert.NotEmpty(t, body["error"])

	w = s.do(http.MethodPost, "/v1/api/voice-preview", `{"voiceId":"v1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/v1/api/generate-audio", "/v1/api/generate-video", "/v1/api/voice-preview"} {
		w := s.do(http.MethodOptions, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "content-type")
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.test"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.test", w.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, service.NewRateLimiter(1, nil, zap.NewNop()))

	w := s.do(http.MethodPost, "/v1/api/voice-preview", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/v1/api/voice-preview", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])

	// 非生成接口不限流
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/api/avatars", "").Code)
}

func TestProjectEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/v1/api/projects", `{"userId":"u1","title":"Intro","script":"Hi"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := decode(t, w)["project"].(map[string]interface{})
	id := project["id"].(string)
	assert.Equal(t, models.ProjectStatusDraft, project["status"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/api/projects", `{"userId":"u1"}`).Code)

	w = s.do(http.MethodGet, "/v1/api/projects?user_id=u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["projects"], 1)

	w = s.do(http.MethodGet, "/v1/api/projects/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["job"])

	s.do(http.MethodPost, "/v1/api/generate-audio", `{"projectId":"`+id+`","text":"Hi","voiceStyle":"normal"}`)
	w = s.do(http.MethodGet, "/v1/api/projects/"+id, "")
	body := decode(t, w)
	job := body["job"].(map[string]interface{})
	assert.Equal(t, models.JobStatusCompleted, job["status"])
	assert.Equal(t, float64(100), job["progress"])
	assert.Equal(t, models.ProjectStatusCompleted, body["project"].(map[string]interface{})["status"])

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/api/projects/missing", "").Code)
}

func TestAvatarsAndJobs(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.PutAvatar(models.Avatar{ID: "a1", Name: "Ana", ImageURL: "https://cdn.test/a1.png", IsActive: true})
	s.store.PutAvatar(models.Avatar{ID: "a2", Name: "Old", IsActive: false})

	w := s.do(http.MethodGet, "/v1/api/avatars", "")
	require.Equal(t, http.StatusOK, w.Code)
	avatars := decode(t, w)["avatars"].([]interface{})
	require.Len(t, avatars, 1)
	assert.Equal(t, "a1", avatars[0].(map[string]interface{})["id"])

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/api/jobs/missing", "").Code)

	w = s.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestJobProgressWebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.store.CreateJob(ctx, &models.ProcessingJob{ID: "j1", ProjectID: "p1", Status: models.JobStatusProcessing, Progress: 10}))

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/j1/wss"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first models.ProcessingJob
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 10, first.Progress)

	require.NoError(t, s.store.UpdateJobProgress(ctx, "j1", 60))
	var second models.ProcessingJob
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 60, second.Progress)

	require.NoError(t, s.store.CompleteJob(ctx, "j1", time.Now()))
	var last models.ProcessingJob
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
}

type countingStore struct {
	*models.MemoryStore
	gets atomic.Int64
}

func (c *countingStore) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	c.gets.Add(1)
	return c.MemoryStore.GetJob(ctx, id)
}

func TestJobProgressWebSocketStopsOnClientClose(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.store.CreateJob(ctx, &models.ProcessingJob{ID: "j1", ProjectID: "p1", Status: models.JobStatusProcessing, Progress: 10}))

	store := &countingStore{MemoryStore: s.store}
	h := *s.h
	h.Store = store
	srv := httptest.NewServer(InitRouter(&h, Options{Log: zap.NewNop()}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/j1/wss"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var first models.ProcessingJob
	require.NoError(t, conn.ReadJSON(&first))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.NoError(t, conn.Close())

	// 任务仍在 processing，断开后不应继续查询
	last := int64(-1)
	require.Eventually(t, func() bool {
		n := store.gets.Load()
		stable := n == last
		last = n
		return stable
	}, 2*time.Second, 60*time.Millisecond)
}
