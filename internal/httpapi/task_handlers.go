package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/daybook-hq/daybook/internal/insight"
	"github.com/daybook-hq/daybook/internal/task"
)

// createTask handles POST /api/v1/tasks.
func (s *Server) createTask(c *fiber.Ctx) error {
	var req createTaskRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	t, err := s.tasks.Create(userIDOf(c), task.CreateInput{
		Title:            req.Title,
		Description:      req.Description,
		Status:           req.Status,
		Priority:         req.Priority,
		Category:         req.Category,
		ProjectID:        req.ProjectID,
		ParentID:         req.ParentID,
		DueDate:          req.DueDate,
		EstimatedMinutes: req.EstimatedMinutes,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusCreated, fiber.Map{"task": shapeTask(t)})
}

// listTasks handles GET /api/v1/tasks. view=today|upcoming selects the
// date-based lists; status and projectId filter further.
func (s *Server) listTasks(c *fiber.Ctx) error {
	tasks, err := s.tasks.List(userIDOf(c), task.ListFilter{
		View:         c.Query("view"),
		Status:       c.Query("status"),
		ProjectID:    c.Query("projectId"),
		ParentID:     c.Query("parentId"),
		TopLevelOnly: c.QueryBool("topLevel", false),
		Limit:        c.QueryInt("limit", 0),
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"tasks": shapeTasks(tasks)})
}

// getTask handles GET /api/v1/tasks/:id.
func (s *Server) getTask(c *fiber.Ctx) error {
	t, err := s.tasks.Get(userIDOf(c), c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"task": shapeTask(t)})
}

// updateTask handles PATCH /api/v1/tasks/:id.
func (s *Server) updateTask(c *fiber.Ctx) error {
	var req updateTaskRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	t, err := s.tasks.Update(c.UserContext(), userIDOf(c), c.Params("id"), task.UpdateInput{
		Title:            req.Title,
		Description:      req.Description,
		Status:           req.Status,
		Priority:         req.Priority,
		Category:         req.Category,
		ProjectID:        req.ProjectID,
		ParentID:         req.ParentID,
		DueDate:          req.DueDate,
		EstimatedMinutes: req.EstimatedMinutes,
		ActualMinutes:    req.ActualMinutes,
		BlockedReason:    req.BlockedReason,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"task": shapeTask(t)})
}

// deleteTask handles DELETE /api/v1/tasks/:id.
func (s *Server) deleteTask(c *fiber.Ctx) error {
	if err := s.tasks.Delete(userIDOf(c), c.Params("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// completeTask handles POST /api/v1/tasks/:id/complete. The history
// snapshot runs detached; this response never waits on it.
func (s *Server) completeTask(c *fiber.Ctx) error {
	var req completeTaskRequest
	if len(c.Body()) > 0 {
		if err := s.parseBody(c, &req); err != nil {
			return s.respondError(c, err)
		}
	}

	t, err := s.tasks.Complete(c.UserContext(), userIDOf(c), c.Params("id"), task.CompleteInput{
		Abandoned:     req.Abandoned,
		ActualMinutes: req.ActualMinutes,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"task": shapeTask(t)})
}

// listSubtasks handles GET /api/v1/tasks/:id/subtasks.
func (s *Server) listSubtasks(c *fiber.Ctx) error {
	subtasks, err := s.tasks.Subtasks(userIDOf(c), c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"tasks": shapeTasks(subtasks)})
}

// taskInsights handles GET /api/v1/tasks/:id/insights: the recorded
// execution snapshot plus derived suggestions. Tasks completed without
// AI enrichment have no snapshot and report tracked=false.
func (s *Server) taskInsights(c *fiber.Ctx) error {
	userID := userIDOf(c)
	t, err := s.tasks.Get(userID, c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}

	h, err := s.store.GetHistoryByTask(userID, t.ID)
	if err != nil {
		return s.respondError(c, err)
	}
	if h == nil {
		return respondData(c, fiber.StatusOK, fiber.Map{
			"tracked":     false,
			"history":     nil,
			"suggestions": []string{},
		})
	}

	return respondData(c, fiber.StatusOK, fiber.Map{
		"tracked":     true,
		"history":     shapeHistory(h),
		"suggestions": insight.CalculateInsights(h),
	})
}

// createProject handles POST /api/v1/projects.
func (s *Server) createProject(c *fiber.Ctx) error {
	var req projectRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	p, err := s.tasks.CreateProject(userIDOf(c), task.ProjectInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusCreated, fiber.Map{"project": shapeProject(p, 0, 0)})
}

// listProjects handles GET /api/v1/projects.
func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.tasks.ListProjects(userIDOf(c))
	if err != nil {
		return s.respondError(c, err)
	}
	out := make([]projectJSON, 0, len(projects))
	for _, p := range projects {
		out = append(out, shapeProjectSummary(p))
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"projects": out})
}

// getProject handles GET /api/v1/projects/:id.
func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.tasks.GetProject(userIDOf(c), c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"project": shapeProjectSummary(p)})
}

// updateProject handles PATCH /api/v1/projects/:id.
func (s *Server) updateProject(c *fiber.Ctx) error {
	var req projectRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	if _, err := s.tasks.UpdateProject(userIDOf(c), c.Params("id"), task.ProjectInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
	}); err != nil {
		return s.respondError(c, err)
	}

	p, err := s.tasks.GetProject(userIDOf(c), c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"project": shapeProjectSummary(p)})
}

// deleteProject handles DELETE /api/v1/projects/:id.
func (s *Server) deleteProject(c *fiber.Ctx) error {
	if err := s.tasks.DeleteProject(userIDOf(c), c.Params("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
