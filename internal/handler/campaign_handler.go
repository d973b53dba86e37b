package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/recipients"
	"github.com/kursadbilgin/campaign-engine/internal/store"
)

// DispatchEngine is the campaign control surface the handlers depend on.
type DispatchEngine interface {
	Start(campaign domain.Campaign) (string, error)
	Cancel() error
	Status() domain.CampaignStatus
	SendDirect(ctx context.Context, msg provider.Message) (string, error)
}

// SenderDefaults carries the session-scoped provider identity resolved once
// at startup: every campaign and direct send goes out from this number with
// this status-callback URL.
type SenderDefaults struct {
	From        string
	CallbackURL string
}

type CampaignHandler struct {
	engine   DispatchEngine
	outbox   *store.OutboxStore
	report   *store.ReportStore
	defaults SenderDefaults
}

func NewCampaignHandler(engine DispatchEngine, outbox *store.OutboxStore, report *store.ReportStore, defaults SenderDefaults) (*CampaignHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("dispatch engine is required")
	}
	if outbox == nil || report == nil {
		return nil, fmt.Errorf("outbox and report stores are required")
	}
	return &CampaignHandler{
		engine:   engine,
		outbox:   outbox,
		report:   report,
		defaults: defaults,
	}, nil
}

func RegisterCampaignRoutes(router fiber.Router, engine DispatchEngine, outbox *store.OutboxStore, report *store.ReportStore, defaults SenderDefaults) error {
	h, err := NewCampaignHandler(engine, outbox, report, defaults)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.StartCampaign)
	v1.Get("/campaigns/current", h.GetCampaign)
	v1.Post("/campaigns/current/cancel", h.CancelCampaign)
	v1.Post("/messages", h.SendMessage)
	v1.Get("/outbox", h.ListOutbox)
	v1.Delete("/outbox", h.ClearOutbox)
	v1.Get("/reports", h.ListReports)
	v1.Get("/reports/:sid", h.GetReport)
	v1.Delete("/reports", h.ClearReports)

	return nil
}

type startCampaignRequest struct {
	Body           string   `json:"body"`
	Recipients     []string `json:"recipients"`
	RecipientsFile string   `json:"recipientsFile"`
}

type startCampaignResponse struct {
	CampaignID string `json:"campaignId"`
	State      string `json:"state"`
	Total      int    `json:"total"`
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendMessageResponse struct {
	MessageSID string `json:"messageSid"`
}

type listOutboxResponse struct {
	Data []domain.OutboxRecord `json:"data"`
	Meta listMeta              `json:"meta"`
}

type listReportsResponse struct {
	Data []domain.ReportRecord `json:"data"`
	Meta listMeta              `json:"meta"`
}

type listMeta struct {
	Total int `json:"total"`
}

func (h *CampaignHandler) StartCampaign(c *fiber.Ctx) error {
	var req startCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	numbers, err := h.resolveRecipients(req)
	if err != nil {
		return toHTTPError(err)
	}

	campaign := domain.Campaign{
		Body:        req.Body,
		From:        h.defaults.From,
		CallbackURL: h.defaults.CallbackURL,
		Recipients:  numbers,
	}

	id, err := h.engine.Start(campaign)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(startCampaignResponse{
		CampaignID: id,
		State:      domain.StateRunning.String(),
		Total:      len(recipients.Canonicalize(numbers)),
	})
}

func (h *CampaignHandler) resolveRecipients(req startCampaignRequest) ([]string, error) {
	hasInline := len(req.Recipients) > 0
	hasFile := strings.TrimSpace(req.RecipientsFile) != ""

	switch {
	case hasInline && hasFile:
		return nil, fmt.Errorf("%w: recipients and recipientsFile are mutually exclusive", domain.ErrValidation)
	case hasFile:
		return recipients.FromFile(strings.TrimSpace(req.RecipientsFile))
	case hasInline:
		return req.Recipients, nil
	default:
		return nil, fmt.Errorf("%w: recipients or recipientsFile is required", domain.ErrValidation)
	}
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	status := h.engine.Status()
	if status.ID == "" {
		return toHTTPError(fmt.Errorf("%w: no campaign has run yet", domain.ErrNotFound))
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	if err := h.engine.Cancel(); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"state": domain.StateCancelled.String(),
	})
}

func (h *CampaignHandler) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sid, err := h.engine.SendDirect(c.Context(), provider.Message{
		To:             strings.TrimSpace(req.To),
		From:           h.defaults.From,
		Body:           req.Body,
		StatusCallback: h.defaults.CallbackURL,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(sendMessageResponse{MessageSID: sid})
}

func (h *CampaignHandler) ListOutbox(c *fiber.Ctx) error {
	toFilter := strings.TrimSpace(c.Query("to"))

	entries := h.outbox.All()
	records := make([]domain.OutboxRecord, 0, len(entries))
	for _, record := range entries {
		if toFilter != "" && record.To != toFilter {
			continue
		}
		records = append(records, record)
	}
	sortOutbox(records)

	return c.Status(fiber.StatusOK).JSON(listOutboxResponse{
		Data: records,
		Meta: listMeta{Total: len(records)},
	})
}

func (h *CampaignHandler) ClearOutbox(c *fiber.Ctx) error {
	if err := h.outbox.Clear(); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) ListReports(c *fiber.Ctx) error {
	entries := h.report.All()
	records := make([]domain.ReportRecord, 0, len(entries))
	for _, record := range entries {
		records = append(records, record)
	}
	sortReports(records)

	return c.Status(fiber.StatusOK).JSON(listReportsResponse{
		Data: records,
		Meta: listMeta{Total: len(records)},
	})
}

func (h *CampaignHandler) GetReport(c *fiber.Ctx) error {
	sid := strings.TrimSpace(c.Params("sid"))

	record, ok := h.report.Get(sid)
	if !ok {
		return toHTTPError(fmt.Errorf("%w: no report for message %s", domain.ErrNotFound, sid))
	}
	return c.Status(fiber.StatusOK).JSON(record)
}

func (h *CampaignHandler) ClearReports(c *fiber.Ctx) error {
	if err := h.report.Clear(); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Newest first; SID breaks timestamp ties so the order is stable.
func sortOutbox(records []domain.OutboxRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].TimestampUnix != records[j].TimestampUnix {
			return records[i].TimestampUnix > records[j].TimestampUnix
		}
		return records[i].MessageSID < records[j].MessageSID
	})
}

func sortReports(records []domain.ReportRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].TimestampUnix != records[j].TimestampUnix {
			return records[i].TimestampUnix > records[j].TimestampUnix
		}
		return records[i].MessageSID < records[j].MessageSID
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNoActiveCampaign):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	default:
		return err
	}
}
