package server

import (
	"marketchat/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetMessagesBetween handles GET /api/chat/messages?userA=&userB=.
// The pair is unordered; either participant may appear in either parameter,
// but the authenticated viewer must be one of them.
func (s *Server) GetMessagesBetween(c *fiber.Ctx) error {
	ctx := c.UserContext()
	viewerID := c.Locals("userID").(string)

	userA := c.Query("userA")
	userB := c.Query("userB")
	if userA == "" || userB == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("userA and userB are required"))
	}
	if viewerID != userA && viewerID != userB {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewUnauthorizedError("You are not a participant in this conversation"))
	}

	partnerID := userA
	if partnerID == viewerID {
		partnerID = userB
	}

	history, err := s.chatService.History(ctx, viewerID, partnerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(history)
}

// GetConversations handles GET /api/chat/conversations?userId=.
func (s *Server) GetConversations(c *fiber.Ctx) error {
	ctx := c.UserContext()
	viewerID := c.Locals("userID").(string)

	if q := c.Query("userId"); q != "" && q != viewerID {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewUnauthorizedError("Cannot read another user's conversations"))
	}

	conversations, err := s.chatService.Conversations(ctx, viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	return c.JSON(conversations)
}

// DeleteConversation handles DELETE /api/chat/conversations?userId=&partnerId=.
// The marketplace calls this when an order is cancelled or completed; the
// next inbox refresh makes the widget drop the entry and close the view.
func (s *Server) DeleteConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	viewerID := c.Locals("userID").(string)

	partnerID := c.Query("partnerId")
	if partnerID == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("partnerId is required"))
	}

	if err := s.chatService.DeleteConversation(ctx, viewerID, partnerID); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
