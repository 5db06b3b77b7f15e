package api

import (
	"github.com/ozeron/spyglass/app/database"
	"github.com/ozeron/spyglass/app/tasks"
)

type Handler struct {
	postRepo  database.PostRepository
	scheduler tasks.SchedulerInterface
}
