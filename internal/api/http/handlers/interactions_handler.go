package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-desk/internal/api/dto"
	"github.com/spec-kit/verification-desk/internal/auth"
	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/service"
	apperrors "github.com/spec-kit/verification-desk/pkg/util"
)

// VerificationWorkflow is the part of the verification service the interaction surface drives.
type VerificationWorkflow interface {
	OpenTicket(ctx context.Context, requester domain.Actor, input service.OpenTicketInput) (*domain.TicketRecord, error)
	AcknowledgePhoto(ctx context.Context, ref service.TicketRef, actor domain.Actor) (*domain.TicketRecord, error)
	Review(ctx context.Context, userID string, approved bool, reviewer domain.Actor) (*domain.TicketRecord, error)
	CloseTicket(ctx context.Context, channelID string, closer domain.Actor, reason string) (bool, error)
	CloseByRef(ctx context.Context, ref service.TicketRef, closer domain.Actor, reason string) (bool, error)
	ListActive(ctx context.Context, actor domain.Actor) ([]domain.TicketRecord, error)
	History(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketHistory, error)
}

// InteractionsHandler turns commands and control presses into workflow calls.
type InteractionsHandler struct {
	workflow VerificationWorkflow
}

// NewInteractionsHandler constructs handler.
func NewInteractionsHandler(workflow VerificationWorkflow) *InteractionsHandler {
	return &InteractionsHandler{workflow: workflow}
}

// OpenTicket POST /interactions/commands/ticket.
func (h *InteractionsHandler) OpenTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.OpenTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	record, err := h.workflow.OpenTicket(c.UserContext(), actor, service.OpenTicketInput{
		Reason:      req.Reason,
		DeclaredAge: req.Age,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketSummary(*record)})
}

// Review POST /interactions/commands/verify-identity.
func (h *InteractionsHandler) Review(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.UserID) == "" || req.Approved == nil {
		return apperrors.NewValidationError("user_id and approved required", nil)
	}
	record, err := h.workflow.Review(c.UserContext(), req.UserID, *req.Approved, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketSummary(*record)})
}

// Close POST /interactions/commands/close.
func (h *InteractionsHandler) Close(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CloseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		return apperrors.NewValidationError("channel_id required", nil)
	}
	closed, err := h.workflow.CloseTicket(c.UserContext(), req.ChannelID, actor, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"channel_id": req.ChannelID, "closed": closed}})
}

// Component POST /interactions/components.
func (h *InteractionsHandler) Component(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ComponentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ref := service.TicketRef{ChannelID: req.ChannelID, MessageID: req.MessageID}

	switch req.CustomID {
	case service.ComponentPhotoSubmitted:
		record, err := h.workflow.AcknowledgePhoto(c.UserContext(), ref, actor)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": dto.NewTicketSummary(*record)})
	case service.ComponentCloseTicket:
		closed, err := h.workflow.CloseByRef(c.UserContext(), ref, actor, "")
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": fiber.Map{"channel_id": req.ChannelID, "closed": closed}})
	case service.ComponentHelp:
		return c.JSON(fiber.Map{"data": helpResponse()})
	default:
		return apperrors.NewValidationError("unknown control", map[string]any{"custom_id": req.CustomID})
	}
}

// ListTickets GET /tickets.
func (h *InteractionsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	records, err := h.workflow.ListActive(c.UserContext(), actor)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(records))
	for _, r := range records {
		items = append(items, dto.NewTicketSummary(r))
	}
	return c.JSON(fiber.Map{"data": items})
}

// TicketHistory GET /tickets/:ticket_id/history.
func (h *InteractionsHandler) TicketHistory(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	entries, err := h.workflow.History(c.UserContext(), actor, c.Params("ticket_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("member required")
	}
	return principal.Actor, nil
}

func helpResponse() dto.EmbedResponse {
	embed := service.HelpEmbed()
	out := dto.EmbedResponse{Title: embed.Title, Description: embed.Description}
	for _, f := range embed.Fields {
		out.Fields = append(out.Fields, dto.EmbedFieldPayload{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}
