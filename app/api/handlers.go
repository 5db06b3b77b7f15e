package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ozeron/spyglass/app/database"
	"github.com/ozeron/spyglass/app/tasks"
)

func NewHandler(postRepo database.PostRepository, scheduler tasks.SchedulerInterface) *Handler {
	return &Handler{
		postRepo:  postRepo,
		scheduler: scheduler,
	}
}

// StartSurveillance activates the scheduling loop. A second start while
// running is reported as a conflict, not an error.
func (h *Handler) StartSurveillance(c *gin.Context) {
	if err := h.scheduler.Start(c.Request.Context()); err != nil {
		if errors.Is(err, tasks.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "Surveillance is already running"})
			return
		}
		slog.Error("Failed to start surveillance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start surveillance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Surveillance started",
	})
}

// StopSurveillance deactivates the loop and clears pending jobs. An
// in-flight cycle finishes but will not schedule a successor.
func (h *Handler) StopSurveillance(c *gin.Context) {
	if err := h.scheduler.Stop(c.Request.Context()); err != nil {
		slog.Error("Failed to stop surveillance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop surveillance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Surveillance stopped",
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

func (h *Handler) GetPostsByAuthor(c *gin.Context) {
	author := c.Param("author")
	if author == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing author parameter"})
		return
	}

	posts, err := h.postRepo.GetPostsByAuthor(author)
	if err != nil {
		slog.Error("Database error", "operation", "get_posts", "author", author, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"author": author,
		"posts":  posts,
		"total":  len(posts),
	})
}

// GetSnapshots returns the full observation history for one post, oldest
// first, so a client can chart engagement over time.
func (h *Handler) GetSnapshots(c *gin.Context) {
	postID := c.Param("id")
	if postID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing post id parameter"})
		return
	}

	post, err := h.postRepo.GetPost(postID)
	if err != nil {
		slog.Error("Database error", "operation", "get_post", "post_id", postID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}

	snapshots, err := h.postRepo.GetSnapshots(postID)
	if err != nil {
		slog.Error("Database error", "operation", "get_snapshots", "post_id", postID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"post":      post,
		"snapshots": snapshots,
		"total":     len(snapshots),
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"running":   h.scheduler.Status().Running,
	}

	if postCount, err := h.postRepo.GetPostCount(); err == nil {
		health["posts"] = postCount
	}
	if snapshotCount, err := h.postRepo.GetSnapshotCount(); err == nil {
		health["snapshots"] = snapshotCount
	}

	c.JSON(http.StatusOK, health)
}
