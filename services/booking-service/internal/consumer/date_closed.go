package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
)

const TopicDateClosed = "business.date.closed.v1"

// DateClosedEvent announces that a business will not open on Date (YYYY-MM-DD).
type DateClosedEvent struct {
	BusinessID string `json:"business_id"`
	Date       string `json:"date"`
	Reason     string `json:"reason,omitempty"`
}

type DateCloser interface {
	CloseDate(ctx context.Context, businessID, date, reason string) (booking.CloseResult, error)
}

// DateClosedHandler closes the date through the engine, which flags affected appointments
// and sends the reschedule links.
func DateClosedHandler(closer DateCloser, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt DateClosedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", TopicDateClosed, err)
		}
		if evt.BusinessID == "" || evt.Date == "" {
			return fmt.Errorf("decode %s: business_id and date are required", TopicDateClosed)
		}
		res, err := closer.CloseDate(ctx, evt.BusinessID, evt.Date, evt.Reason)
		if err != nil {
			return err
		}
		logger.Info("date closed from event",
			"business_id", evt.BusinessID,
			"date", evt.Date,
			"flagged", len(res.Flagged),
		)
		return nil
	}
}
