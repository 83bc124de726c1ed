package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateProject(ctx, &Project{ID: "p1", Status: ProjectStatusDraft, VideoURL: "old"}))
	require.NoError(t, s.MarkProjectProcessing(ctx, "p1"))

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusProcessing, p.Status)
	assert.Empty(t, p.VideoURL, "starting a generation clears the previous result")

	require.NoError(t, s.CompleteProject(ctx, "p1", "https://cdn/audio.mp3", 3))
	p, err = s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusCompleted, p.Status)
	assert.Equal(t, "https://cdn/audio.mp3", p.VideoURL)
	assert.Equal(t, 3, p.DurationSeconds)
	assert.True(t, p.IsTerminal())

	_, err = s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.FailProject(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_JobProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateJob(ctx, &ProcessingJob{ID: "j1", ProjectID: "p1", Status: JobStatusProcessing, Progress: 10}))

	require.NoError(t, s.UpdateJobProgress(ctx, "j1", 50))
	require.NoError(t, s.UpdateJobProgress(ctx, "j1", 30))

	j, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 50, j.Progress)

	require.NoError(t, s.FailJob(ctx, "j1", "boom", time.Now()))
	require.NoError(t, s.UpdateJobProgress(ctx, "j1", 80))

	j, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Equal(t, 50, j.Progress, "closed jobs do not move")
	assert.Equal(t, "boom", j.ErrorMessage)
	require.NotNil(t, j.CompletedAt)
}

func TestMemoryStore_OpenAndLatestJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	require.NoError(t, s.CreateJob(ctx, &ProcessingJob{ID: "old", ProjectID: "p1", Status: JobStatusFailed, CreatedAt: base}))
	require.NoError(t, s.CreateJob(ctx, &ProcessingJob{ID: "new", ProjectID: "p1", Status: JobStatusProcessing, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.CreateJob(ctx, &ProcessingJob{ID: "other", ProjectID: "p2", Status: JobStatusProcessing, CreatedAt: base}))

	latest, err := s.LatestJob(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	open, err := s.OpenJobs(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "new", open[0].ID)

	_, err = s.LatestJob(ctx, "p3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListAvatarsActiveOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	s.PutAvatar(Avatar{ID: "b", IsActive: true, CreatedAt: base.Add(time.Minute)})
	s.PutAvatar(Avatar{ID: "a", IsActive: true, CreatedAt: base})
	s.PutAvatar(Avatar{ID: "off", IsActive: false, CreatedAt: base})

	avatars, err := s.ListAvatars(ctx)
	require.NoError(t, err)
	require.Len(t, avatars, 2)
	assert.Equal(t, "a", avatars[0].ID)
	assert.Equal(t, "b", avatars[1].ID)
}

func TestMemoryStore_ListProjectsByUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	require.NoError(t, s.CreateProject(ctx, &Project{ID: "p1", UserID: "u1", CreatedAt: base}))
	require.NoError(t, s.CreateProject(ctx, &Project{ID: "p2", UserID: "u1", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.CreateProject(ctx, &Project{ID: "p3", UserID: "u2", CreatedAt: base}))

	list, err := s.ListProjects(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)
}
