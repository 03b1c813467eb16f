package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

// TransitionCommand is the wire shape consumed from the transition-command
// subscription. Integrations (ordering systems, WMS) enqueue these instead of
// calling the REST surface directly.
type TransitionCommand struct {
	CardId          int     `json:"card_id"`
	TenantId        string  `json:"tenant_id"`
	ToStage         string  `json:"to_stage"`
	Method          string  `json:"method"`
	UserId          *int    `json:"user_id"`
	LinkedOrderId   *int    `json:"linked_order_id"`
	LinkedOrderType *string `json:"linked_order_type"`
	CorrelationId   string  `json:"correlation_id"`
}

// TransitionWorker re-drives transition commands delivered at-least-once.
// Business failures are acked and dropped (re-delivery can never fix them);
// anything else backs off and nacks for retry.
type TransitionWorker struct {
	Orchestrator *LifecycleOrchestrator
	Logger       *logrus.Logger
}

func NewTransitionWorker(orchestrator *LifecycleOrchestrator, logger *logrus.Logger) *TransitionWorker {
	return &TransitionWorker{Orchestrator: orchestrator, Logger: logger}
}

// Run blocks consuming the subscription until ctx is cancelled.
func (w *TransitionWorker) Run(ctx context.Context, sub *pubsub.Subscription) error {
	return sub.Receive(ctx, w.handle)
}

func (w *TransitionWorker) handle(ctx context.Context, msg *pubsub.Message) {
	var cmd TransitionCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		config.LogError(w.Logger, "workflow", "TransitionWorker.handle", "unmarshal", string(msg.Data), err)
		msg.Ack()
		return
	}

	method := models.TransitionMethod(cmd.Method)
	if method == "" {
		method = models.TransitionMethodApi
	}

	_, err := w.Orchestrator.TransitionCard(ctx, TransitionInput{
		CardId:          cmd.CardId,
		TenantId:        cmd.TenantId,
		ToStage:         models.CardStage(cmd.ToStage),
		Method:          method,
		UserId:          cmd.UserId,
		LinkedOrderId:   cmd.LinkedOrderId,
		LinkedOrderType: cmd.LinkedOrderType,
	})
	if err == nil {
		msg.Ack()
		return
	}

	if !models.IsRetryableError(err) {
		w.Logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"funcName":  "TransitionWorker.handle",
			"tenant_id": cmd.TenantId,
			"card_id":   cmd.CardId,
			"to_stage":  cmd.ToStage,
		}).Warn("dropping non-retryable transition command: " + err.Error())
		msg.Ack()
		return
	}

	attempt := 1
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 0 {
		attempt = *msg.DeliveryAttempt
	}
	delay := models.RetryDelay(attempt)
	config.LogError(w.Logger, "workflow", "TransitionWorker.handle", "retryable", cmd, err)

	// Hold the message for the backoff window, then hand it back.
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	msg.Nack()
}
