package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/store"
	"go.uber.org/zap"
)

// callbackAck is the body the provider receives for every callback. The
// provider only checks for a 2xx; anything else triggers its retry loop.
const callbackAck = "Received!"

// CallbackHandler reconciles asynchronous delivery-status callbacks into the
// report table. It is the table's only writer; the store's mutex serializes
// concurrent callbacks racing through the read-modify-write cycle.
type CallbackHandler struct {
	report  *store.ReportStore
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewCallbackHandler(report *store.ReportStore, logger *zap.Logger) (*CallbackHandler, error) {
	if report == nil {
		return nil, fmt.Errorf("report store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CallbackHandler{
		report: report,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (h *CallbackHandler) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

func RegisterCallbackRoutes(router fiber.Router, report *store.ReportStore, logger *zap.Logger, metrics *observability.Metrics) error {
	h, err := NewCallbackHandler(report, logger)
	if err != nil {
		return err
	}
	h.SetMetrics(metrics)

	// The provider posts status updates to the root path; that URL is what
	// every send embeds as its status callback.
	router.Post("/", h.ReceiveCallback)

	return nil
}

// ReceiveCallback accepts one provider status callback. It always answers
// 200: a non-2xx would make the provider retry, and a malformed payload or a
// failed table write must not cause a retry storm.
func (h *CallbackHandler) ReceiveCallback(c *fiber.Ctx) error {
	fields := parseCallbackFields(c)

	sid := strings.TrimSpace(fields["MessageSid"])
	if sid == "" {
		sid = strings.TrimSpace(fields["SmsSid"])
	}
	if sid == "" {
		h.metrics.IncCallbackDropped()
		h.logger.Warn("callback without message sid dropped",
			zap.Int("fields", len(fields)),
		)
		return c.Status(fiber.StatusOK).SendString(callbackAck)
	}

	record := h.buildRecord(sid, fields)

	if err := h.report.Upsert(sid, record); err != nil {
		// Acknowledge anyway; the provider retrying would not make the disk
		// writable.
		h.logger.Error("report write failed",
			zap.String("messageSid", sid),
			zap.Error(err),
		)
		return c.Status(fiber.StatusOK).SendString(callbackAck)
	}

	h.metrics.IncCallbackReceived(record.Status.String())
	h.logger.Debug("callback stored",
		zap.String("messageSid", sid),
		zap.String("status", record.Status.String()),
	)

	return c.Status(fiber.StatusOK).SendString(callbackAck)
}

func (h *CallbackHandler) buildRecord(sid string, fields map[string]string) domain.ReportRecord {
	now := h.now()
	record := domain.ReportRecord{
		MessageSID:    sid,
		DateTime:      now,
		TimestampUnix: now.Unix(),
	}

	status := fields["MessageStatus"]
	if status == "" {
		status = fields["SmsStatus"]
	}
	record.Status = domain.NormalizeDeliveryStatus(status)
	record.To = strings.TrimSpace(fields["To"])
	record.From = strings.TrimSpace(fields["From"])
	record.AccountSID = strings.TrimSpace(fields["AccountSid"])

	// Unrecognized provider fields are stored verbatim rather than lost.
	consumed := map[string]struct{}{
		"MessageSid": {}, "SmsSid": {},
		"MessageStatus": {}, "SmsStatus": {},
		"To": {}, "From": {}, "AccountSid": {},
	}
	for key, value := range fields {
		if _, ok := consumed[key]; ok {
			continue
		}
		if record.Extra == nil {
			record.Extra = map[string]string{}
		}
		record.Extra[key] = value
	}

	return record
}

// parseCallbackFields flattens a form- or JSON-encoded callback body into a
// string map. Unparseable bodies yield an empty map, never an error.
func parseCallbackFields(c *fiber.Ctx) map[string]string {
	fields := map[string]string{}

	contentType := strings.ToLower(string(c.Request().Header.ContentType()))
	if strings.Contains(contentType, fiber.MIMEApplicationJSON) {
		var payload map[string]any
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return fields
		}
		for key, value := range payload {
			switch v := value.(type) {
			case nil:
				continue
			case string:
				fields[key] = v
			default:
				fields[key] = fmt.Sprint(v)
			}
		}
		return fields
	}

	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		fields[string(key)] = string(value)
	})
	return fields
}
