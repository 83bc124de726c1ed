package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 进程内 Store，未配置 MySQL 时使用（开发模式），重启即丢失
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]Project
	jobs     map[string]ProcessingJob
	avatars  map[string]Avatar
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]Project),
		jobs:     make(map[string]ProcessingJob),
		avatars:  make(map[string]Avatar),
	}
}

// PutAvatar 写入（或覆盖）一个头像
func (m *MemoryStore) PutAvatar(a Avatar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.avatars[a.ID] = a
}

func (m *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.projects[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListProjects(_ context.Context, userID string) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Project
	for _, p := range m.projects {
		if userID != "" && p.UserID != userID {
			continue
		}
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) updateProject(id string, fn func(p *Project)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	p.UpdatedAt = time.Now()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) MarkProjectProcessing(_ context.Context, id string) error {
	return m.updateProject(id, func(p *Project) {
		p.Status = ProjectStatusProcessing
		p.VideoURL = ""
		p.DurationSeconds = 0
	})
}

func (m *MemoryStore) CompleteProject(_ context.Context, id, resultURL string, durationSeconds int) error {
	return m.updateProject(id, func(p *Project) {
		p.Status = ProjectStatusCompleted
		p.VideoURL = resultURL
		p.DurationSeconds = durationSeconds
	})
}

func (m *MemoryStore) FailProject(_ context.Context, id string) error {
	return m.updateProject(id, func(p *Project) {
		p.Status = ProjectStatusFailed
	})
}

func (m *MemoryStore) CreateJob(_ context.Context, j *ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (m *MemoryStore) projectJobs(projectID string) []ProcessingJob {
	var res []ProcessingJob
	for _, j := range m.jobs {
		if j.ProjectID == projectID {
			res = append(res, j)
		}
	}
	sort.Slice(res, func(a, b int) bool { return res[a].CreatedAt.After(res[b].CreatedAt) })
	return res
}

func (m *MemoryStore) LatestJob(_ context.Context, projectID string) (*ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := m.projectJobs(projectID)
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

func (m *MemoryStore) OpenJobs(_ context.Context, projectID string) ([]ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []ProcessingJob
	for _, j := range m.projectJobs(projectID) {
		if j.Status == JobStatusProcessing {
			res = append(res, j)
		}
	}
	return res, nil
}

func (m *MemoryStore) updateJob(id string, fn func(j *ProcessingJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&j)
	m.jobs[id] = j
	return nil
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, id string, progress int) error {
	return m.updateJob(id, func(j *ProcessingJob) {
		if j.Status == JobStatusProcessing && progress > j.Progress {
			j.Progress = progress
		}
	})
}

func (m *MemoryStore) CompleteJob(_ context.Context, id string, at time.Time) error {
	return m.updateJob(id, func(j *ProcessingJob) {
		j.Status = JobStatusCompleted
		j.Progress = 100
		j.CompletedAt = &at
	})
}

func (m *MemoryStore) FailJob(_ context.Context, id, message string, at time.Time) error {
	return m.updateJob(id, func(j *ProcessingJob) {
		j.Status = JobStatusFailed
		j.ErrorMessage = message
		j.CompletedAt = &at
	})
}

func (m *MemoryStore) GetAvatar(_ context.Context, id string) (*Avatar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.avatars[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAvatars(_ context.Context) ([]Avatar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Avatar
	for _, a := range m.avatars {
		if a.IsActive {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}
