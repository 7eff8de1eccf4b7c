package domain

import "time"

// ReturnWindow is how long after delivery an order may still be returned.
const ReturnWindow = 7 * 24 * time.Hour

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusReturned},
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// CheckTransition returns an ErrInvalidTransition describing the move when it
// is not in the table.
func (s OrderStatus) CheckTransition(target OrderStatus) error {
	if !s.CanTransitionTo(target) {
		return transitionError(s, target)
	}
	return nil
}

func (o *Order) CanBeCancelled() bool {
	return o.Status.CanTransitionTo(OrderStatusCancelled)
}

func (o *Order) CanBeReturned(now time.Time) bool {
	if o.Status != OrderStatusDelivered || o.Tracking == nil || o.Tracking.DeliveredAt == nil {
		return false
	}
	return now.Sub(*o.Tracking.DeliveredAt) <= ReturnWindow
}

// Cancel moves the order to cancelled and records who did it. A paid order is
// marked refunded.
func (o *Order) Cancel(reason string, by CancelledBy, now time.Time) error {
	if o.Status == OrderStatusCancelled {
		return ErrAlreadyCancelled
	}
	if err := o.Status.CheckTransition(OrderStatusCancelled); err != nil {
		return err
	}
	o.Cancellation = &Cancellation{Reason: reason, CancelledAt: now, CancelledBy: by}
	o.Status = OrderStatusCancelled
	o.refund(now)
	o.UpdatedAt = now
	return nil
}

// MarkReturned processes a return of a delivered order inside the window.
func (o *Order) MarkReturned(reason string, now time.Time) error {
	if err := o.Status.CheckTransition(OrderStatusReturned); err != nil {
		return err
	}
	if !o.CanBeReturned(now) {
		return ErrReturnWindowExpired
	}
	o.Return = &Return{
		Reason:      reason,
		RequestedAt: now,
		ApprovedAt:  &now,
		ProcessedAt: &now,
		Status:      ReturnStatusProcessed,
	}
	o.Status = OrderStatusReturned
	o.refund(now)
	o.UpdatedAt = now
	return nil
}

// Advance moves along the forward path. Shipped and delivered stamp their
// tracking timestamp once; re-sending the current status only fills a missing
// stamp. Cancelled and returned go through Cancel and MarkReturned.
func (o *Order) Advance(target OrderStatus, now time.Time) error {
	if target == OrderStatusCancelled || target == OrderStatusReturned {
		return transitionError(o.Status, target)
	}
	if target != o.Status {
		if err := o.Status.CheckTransition(target); err != nil {
			return err
		}
	}
	switch target {
	case OrderStatusShipped:
		o.ensureTracking()
		if o.Tracking.ShippedAt == nil {
			o.Tracking.ShippedAt = &now
		}
	case OrderStatusDelivered:
		o.ensureTracking()
		if o.Tracking.DeliveredAt == nil {
			o.Tracking.DeliveredAt = &now
		}
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

func (o *Order) ensureTracking() {
	if o.Tracking == nil {
		o.Tracking = &Tracking{}
	}
}

func (o *Order) refund(now time.Time) {
	if o.Payment.Status == PaymentStatusPaid {
		o.Payment.Status = PaymentStatusRefunded
		o.Payment.RefundedAt = &now
	}
}
