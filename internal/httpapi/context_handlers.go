package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/daybook-hq/daybook/internal/artifact"
)

// saveContext handles POST /api/v1/contexts: a new current version for
// (task, type), superseding the previous one.
func (s *Server) saveContext(c *fiber.Ctx) error {
	var req saveContextRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	tc, err := s.artifacts.Save(userIDOf(c), artifact.SaveInput{
		TaskID:         req.TaskID,
		Type:           req.Type,
		Title:          req.Title,
		Content:        req.Content,
		Metadata:       req.Metadata,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusCreated, fiber.Map{"context": shapeContext(tc)})
}

// listContexts handles GET /api/v1/contexts?taskId=&type=&currentOnly=.
// Current versions by default; currentOnly=false returns full history,
// newest update first.
func (s *Server) listContexts(c *fiber.Ctx) error {
	taskID := c.Query("taskId")
	if taskID == "" {
		return respondErrorMessage(c, fiber.StatusBadRequest, "taskId query parameter is required")
	}

	rows, err := s.artifacts.List(userIDOf(c), taskID, c.Query("type"), c.QueryBool("currentOnly", true))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"contexts": shapeContexts(rows)})
}
