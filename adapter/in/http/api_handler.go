// Package http exposes the read-only query API over the pipeline's
// storage and streams.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailwatch/core/domain"
	"mailwatch/core/port/out"
)

type APIHandler struct {
	messages out.MessageStore
	watchers out.WatcherStore
	broker   out.Broker
}

func NewAPIHandler(messages out.MessageStore, watchers out.WatcherStore, broker out.Broker) *APIHandler {
	return &APIHandler{messages: messages, watchers: watchers, broker: broker}
}

func (h *APIHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	api := app.Group("/api")
	api.Get("/messages", h.ListMessages)
	api.Get("/watchers", h.ListWatchers)
	api.Get("/streams", h.StreamDepths)
}

func (h *APIHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type classificationResponse struct {
	Class         string  `json:"class"`
	Confidence    float64 `json:"confidence"`
	WatcherID     string  `json:"watcher_id,omitempty"`
	ExtractedData string  `json:"extracted_data,omitempty"`
}

type messageResponse struct {
	ID             int64                   `json:"id"`
	IdempKey       string                  `json:"idemp_key"`
	MailboxID      string                  `json:"mailbox_id"`
	ExternalID     string                  `json:"external_id"`
	Subject        string                  `json:"subject"`
	ReceivedAt     string                  `json:"received_at,omitempty"`
	Classification *classificationResponse `json:"classification,omitempty"`
}

func (h *APIHandler) ListMessages(c *fiber.Ctx) error {
	mailboxID := c.Query("mailbox_id")
	if mailboxID == "" {
		return ErrorResponse(c, fiber.StatusBadRequest, "mailbox_id is required")
	}
	limit := c.QueryInt("limit", 50)

	rows, err := h.messages.ListMessages(c.Context(), mailboxID, limit)
	if err != nil {
		return ErrorResponse(c, fiber.StatusInternalServerError, "listing messages failed")
	}

	resp := make([]messageResponse, len(rows))
	for i, row := range rows {
		m := messageResponse{
			ID:         row.Message.ID,
			IdempKey:   row.Message.IdempKey,
			MailboxID:  row.Message.MailboxID,
			ExternalID: row.Message.ExternalID,
			Subject:    row.Message.Subject,
		}
		if !row.Message.ReceivedAt.IsZero() {
			m.ReceivedAt = row.Message.ReceivedAt.UTC().Format(time.RFC3339)
		}
		if row.Classification != nil {
			m.Classification = &classificationResponse{
				Class:         row.Classification.Class,
				Confidence:    row.Classification.Confidence,
				WatcherID:     row.Classification.WatcherID,
				ExtractedData: row.Classification.ExtractedData,
			}
		}
		resp[i] = m
	}
	return c.JSON(fiber.Map{"messages": resp})
}

type watcherResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	QueryText string  `json:"query_text"`
	Threshold float64 `json:"threshold"`
	IsActive  bool    `json:"is_active"`
}

func (h *APIHandler) ListWatchers(c *fiber.Ctx) error {
	mailboxID := c.Query("mailbox_id")
	if mailboxID == "" {
		return ErrorResponse(c, fiber.StatusBadRequest, "mailbox_id is required")
	}

	watchers, err := h.watchers.ListWatchers(c.Context(), mailboxID)
	if err != nil {
		return ErrorResponse(c, fiber.StatusInternalServerError, "listing watchers failed")
	}

	resp := make([]watcherResponse, len(watchers))
	for i, w := range watchers {
		resp[i] = watcherResponse{
			ID:        w.ID,
			Name:      w.Name,
			QueryText: w.QueryText,
			Threshold: w.Threshold,
			IsActive:  w.IsActive,
		}
	}
	return c.JSON(fiber.Map{"watchers": resp})
}

func (h *APIHandler) StreamDepths(c *fiber.Ctx) error {
	depths := make(map[string]int64, len(domain.PipelineStreams))
	for _, stream := range domain.PipelineStreams {
		n, err := h.broker.Len(c.Context(), stream)
		if err != nil {
			return ErrorResponse(c, fiber.StatusInternalServerError, "reading stream depth failed")
		}
		depths[stream] = n
	}
	return c.JSON(fiber.Map{"streams": depths})
}

// ErrorResponse writes the uniform error envelope.
func ErrorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
