package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"TalkingAvatar-server/models"
	"TalkingAvatar-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建项目：POST /v1/api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		UserID    string `json:"userId"`
		Title     string `json:"title"`
		Script    string `json:"script"`
		VoiceType string `json:"voiceType"`
		AvatarID  string `json:"avatarId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	now := time.Now()
	project := models.Project{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Title:     req.Title,
		Script:    req.Script,
		VoiceType: req.VoiceType,
		AvatarID:  req.AvatarID,
		Status:    models.ProjectStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateProject(c.Request.Context(), &project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// 项目列表：GET /v1/api/projects?user_id=
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Store.ListProjects(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// 项目详情（附最近一次生成任务）：GET /v1/api/projects/:project_id
func (h *Handler) GetProject(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("project_id")

	project, err := h.Store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = service.ErrProjectNotFound
		}
		h.fail(c, err)
		return
	}

	resp := gin.H{"project": project}
	job, err := h.Store.LatestJob(ctx, projectID)
	switch {
	case err == nil:
		resp["job"] = job
	case !errors.Is(err, models.ErrNotFound):
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// 可选头像：GET /v1/api/avatars
func (h *Handler) ListAvatars(c *gin.Context) {
	avatars, err := h.Store.ListAvatars(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if avatars == nil {
		avatars = []models.Avatar{}
	}
	c.JSON(http.StatusOK, gin.H{"avatars": avatars})
}
