// Package broadcast fans a single request out into one message per
// receiver, with per-receiver failure isolation: one bad recipient never
// blocks delivery to the rest.
package broadcast

import (
	"context"
	"log"

	"github.com/samber/lo"

	"messaging-service/internal/delivery"
	"messaging-service/internal/errs"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Failure records why one receiver was skipped.
type Failure struct {
	ReceiverID int    `json:"receiver_id"`
	Reason     string `json:"reason"`
}

// Result is the partial-success outcome of a broadcast. Messages follow
// the input receiver order after deduplication.
type Result struct {
	Messages []models.Message `json:"messages"`
	Failures []Failure        `json:"failures,omitempty"`
}

// Coordinator expands broadcasts through the delivery state machine so
// every child message carries the same invariants as a 1:1 send.
type Coordinator struct {
	delivery *delivery.Service
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(svc *delivery.Service) *Coordinator {
	return &Coordinator{delivery: svc}
}

// Broadcast creates one message per deduplicated receiver. Individual
// create failures land in the failure list; the call as a whole only
// errors on malformed input or cancellation.
func (c *Coordinator) Broadcast(ctx context.Context, req models.BroadcastRequest) (Result, error) {
	receivers := lo.Uniq(req.ReceiverIDs)
	if len(receivers) == 0 {
		return Result{}, errs.Validationf("broadcast needs at least one receiver")
	}

	result := Result{Messages: make([]models.Message, 0, len(receivers))}
	for _, receiverID := range receivers {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		msg, err := c.delivery.Create(ctx, req.SenderID, receiverID, req.Content, req.Kind)
		if err != nil {
			log.Printf("broadcast skipped receiver_id=%d sender_id=%d err=%v", receiverID, req.SenderID, err)
			result.Failures = append(result.Failures, Failure{ReceiverID: receiverID, Reason: err.Error()})
			observability.IncBroadcastReceiver("failed")
			continue
		}
		result.Messages = append(result.Messages, msg)
		observability.IncBroadcastReceiver("created")
	}
	return result, nil
}
