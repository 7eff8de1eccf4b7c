package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/messaging"
)

const mailDomain = "example.com"

// Notifier turns order events into customer emails.
type Notifier struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *zap.Logger
}

func NewNotifier(emailServiceURL string, client *http.Client, logger *zap.Logger) *Notifier {
	return &Notifier{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

// Source is one topic subscription.
type Source interface {
	Topic() string
	Consume(ctx context.Context, handler messaging.HandlerFunc) error
}

// Run consumes every source until ctx ends or one of them fails. Nothing is
// consumed unless every source has a handler.
func (n *Notifier) Run(ctx context.Context, sources ...Source) error {
	handlers := make([]messaging.HandlerFunc, len(sources))
	for i, src := range sources {
		handler, err := n.handlerFor(src.Topic())
		if err != nil {
			return err
		}
		handlers[i] = handler
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := src.Consume(ctx, handlers[i]); err != nil {
				return fmt.Errorf("consume %s: %w", src.Topic(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (n *Notifier) handlerFor(topic string) (messaging.HandlerFunc, error) {
	switch topic {
	case domain.TopicOrderCreated:
		return n.HandleOrderCreated, nil
	case domain.TopicOrderStatusChanged:
		return n.HandleStatusChanged, nil
	default:
		return nil, fmt.Errorf("no handler for topic %q", topic)
	}
}

// HandleOrderCreated sends the order confirmation. A payload that cannot be
// decoded is logged and dropped so it does not block the partition.
func (n *Notifier) HandleOrderCreated(ctx context.Context, key string, payload []byte) error {
	log := logger.WithTrace(ctx, n.logger)

	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Error("dropping undecodable order created event", zap.String("key", key), zap.Error(err))
		return nil
	}

	log = log.With(zap.String("order_id", event.OrderID), zap.String("order_number", event.OrderNumber))
	log.Info("processing order created event", zap.String("user_id", event.UserID))

	units := 0
	for _, item := range event.Items {
		units += item.Quantity
	}

	msg := message{
		To:      recipient(event.UserID),
		Subject: "Order received: " + event.OrderNumber,
		Body: fmt.Sprintf("We received your order %s for %d item(s). Total: %s.",
			event.OrderNumber, units, event.Total.StringFixed(2)),
	}
	if err := n.send(ctx, msg); err != nil {
		log.Error("failed to send order confirmation", zap.Error(err))
		return fmt.Errorf("send confirmation for %s: %w", event.OrderNumber, err)
	}

	log.Info("order confirmation sent")
	return nil
}

func (n *Notifier) HandleStatusChanged(ctx context.Context, key string, payload []byte) error {
	log := logger.WithTrace(ctx, n.logger)

	var event domain.OrderStatusChangedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Error("dropping undecodable status changed event", zap.String("key", key), zap.Error(err))
		return nil
	}

	log = log.With(
		zap.String("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
	)

	msg, ok := statusMessage(event)
	if !ok {
		log.Debug("status change needs no notification")
		return nil
	}

	if err := n.send(ctx, msg); err != nil {
		log.Error("failed to send status notification", zap.Error(err))
		return fmt.Errorf("send %s notification for %s: %w", event.To, event.OrderNumber, err)
	}

	log.Info("status notification sent")
	return nil
}

func statusMessage(event domain.OrderStatusChangedEvent) (message, bool) {
	msg := message{To: recipient(event.UserID)}
	switch event.To {
	case domain.OrderStatusConfirmed:
		msg.Subject = "Order confirmed: " + event.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s has been confirmed.", event.OrderNumber)
	case domain.OrderStatusShipped:
		msg.Subject = "Order shipped: " + event.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s is on its way.", event.OrderNumber)
	case domain.OrderStatusDelivered:
		msg.Subject = "Order delivered: " + event.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s has been delivered.", event.OrderNumber)
	case domain.OrderStatusCancelled:
		msg.Subject = "Order cancelled: " + event.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s has been cancelled. Reason: %s.", event.OrderNumber, event.Reason)
	case domain.OrderStatusReturned:
		msg.Subject = "Return processed: " + event.OrderNumber
		msg.Body = fmt.Sprintf("The return of order %s has been processed.", event.OrderNumber)
	default:
		return message{}, false
	}
	return msg, true
}

func recipient(userID string) string {
	return userID + "@" + mailDomain
}

type message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (n *Notifier) send(ctx context.Context, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
