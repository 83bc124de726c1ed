package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"TalkingAvatar-server/models"

	"go.uber.org/zap"
)

// instantClock 立即触发，并累计"等待"过的时长
type instantClock struct {
	mu      sync.Mutex
	elapsed time.Duration
	waits   int
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.elapsed += d
	c.waits++
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// stuckClock 永不触发
type stuckClock struct{}

func (stuckClock) After(time.Duration) <-chan time.Time { return nil }

func testClient() *ProviderClient {
	c := NewProviderClient(5*time.Second, zap.NewNop())
	c.Clock = &instantClock{}
	return c
}

type fakeSpeech struct {
	name  string
	url   string
	err   error
	calls int
	last  SpeechInput
}

func (f *fakeSpeech) Name() string { return f.name }

func (f *fakeSpeech) Synthesize(ctx context.Context, in SpeechInput, observe PollObserver) (string, error) {
	f.calls++
	f.last = in
	if observe != nil {
		observe(1, 3)
		observe(2, 3)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeAnimator struct {
	name  string
	url   string
	err   error
	calls int
	last  AnimationInput
	// block 阻塞直到 ctx 取消
	block bool
}

func (f *fakeAnimator) Name() string { return f.name }

func (f *fakeAnimator) Animate(ctx context.Context, in AnimationInput, observe PollObserver) (string, error) {
	f.calls++
	f.last = in
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if observe != nil {
		observe(5, 10)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// memArtifacts 内存版 ArtifactStore
type memArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{objects: make(map[string][]byte)}
}

func (m *memArtifacts) Save(_ context.Context, objectName string, reader io.Reader, _ int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[objectName] = buf.Bytes()
	m.mu.Unlock()
	return "https://storage.test/" + objectName, nil
}

func (m *memArtifacts) Mirror(_ context.Context, sourceURL, objectName string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	m.objects[objectName] = []byte(sourceURL)
	m.mu.Unlock()
	return "https://storage.test/" + objectName, nil
}

// recordingStore 记录写操作和进度序列
type recordingStore struct {
	*models.MemoryStore
	mu       sync.Mutex
	writes   int
	progress []int
	// failProgress 让 UpdateJobProgress 返回错误
	failProgress bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: models.NewMemoryStore()}
}

func (s *recordingStore) write() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *recordingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *recordingStore) CreateJob(ctx context.Context, j *models.ProcessingJob) error {
	s.write()
	return s.MemoryStore.CreateJob(ctx, j)
}

func (s *recordingStore) MarkProjectProcessing(ctx context.Context, id string) error {
	s.write()
	return s.MemoryStore.MarkProjectProcessing(ctx, id)
}

func (s *recordingStore) CompleteProject(ctx context.Context, id, url string, d int) error {
	s.write()
	return s.MemoryStore.CompleteProject(ctx, id, url, d)
}

func (s *recordingStore) FailProject(ctx context.Context, id string) error {
	s.write()
	return s.MemoryStore.FailProject(ctx, id)
}

func (s *recordingStore) UpdateJobProgress(ctx context.Context, id string, p int) error {
	s.write()
	if s.failProgress {
		return fmt.Errorf("db down")
	}
	s.mu.Lock()
	s.progress = append(s.progress, p)
	s.mu.Unlock()
	return s.MemoryStore.UpdateJobProgress(ctx, id, p)
}

func (s *recordingStore) CompleteJob(ctx context.Context, id string, at time.Time) error {
	s.write()
	return s.MemoryStore.CompleteJob(ctx, id, at)
}

func (s *recordingStore) FailJob(ctx context.Context, id, msg string, at time.Time) error {
	s.write()
	return s.MemoryStore.FailJob(ctx, id, msg, at)
}

func seedProject(store models.Store, id string) {
	_ = store.CreateProject(context.Background(), &models.Project{
		ID:     id,
		Title:  "demo",
		Status: models.ProjectStatusDraft,
	})
}
