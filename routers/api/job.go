package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 查询生成任务：GET /v1/api/jobs/:job_id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Store.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// 任务进度 WebSocket 推送：以 DB 为来源，先推送当前状态，之后轮询 DB 推送变化，直到终态。
// 进度由执行生成的请求/worker 写入，这里只读。
func (h *Handler) JobProgressWebSocket(c *gin.Context) {
	jobID := c.Param("job_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("WebSocket升级失败", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 读协程：客户端断开或发来 close 帧时结束推送
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "job not found: " + err.Error()})
		return
	}
	if err := conn.WriteJSON(job); err != nil || job.IsTerminal() {
		return
	}

	interval := h.WSPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prevStatus, prevProgress := job.Status, job.Progress
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := h.Store.GetJob(ctx, jobID)
		if err != nil {
			// 查询失败继续重试
			continue
		}
		if cur.Status == prevStatus && cur.Progress == prevProgress {
			continue
		}
		if err := conn.WriteJSON(cur); err != nil {
			return
		}
		prevStatus, prevProgress = cur.Status, cur.Progress
		if cur.IsTerminal() {
			return
		}
	}
}
