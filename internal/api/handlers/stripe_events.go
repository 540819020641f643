package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homegrid/internal/types"
)

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to the fields the state machine needs. Avoiding the full
// stripe.Event type keeps the handler decoupled from the stripe-go library
// and makes testing straightforward.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeInvoiceObj is the minimal view of an invoice event's data object.
type stripeInvoiceObj struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// stripeSubscriptionEventObj is the minimal view of a subscription event's
// data object.
type stripeSubscriptionEventObj struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

// eventTimestamp returns the event's created timestamp. It orders competing
// writes in the optimistic-lock guard, so it always uses provider time, not
// local receipt time.
func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

func (e *stripeWebhookEvent) invoiceObject() (*stripeInvoiceObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("parse event data: %w", err)
	}
	var invoice stripeInvoiceObj
	if err := json.Unmarshal(data.Object, &invoice); err != nil {
		return nil, fmt.Errorf("parse invoice object: %w", err)
	}
	return &invoice, nil
}

func (e *stripeWebhookEvent) subscriptionObject() (*stripeSubscriptionEventObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("parse event data: %w", err)
	}
	var sub stripeSubscriptionEventObj
	if err := json.Unmarshal(data.Object, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription object: %w", err)
	}
	return &sub, nil
}

// orphanedEventError marks an event whose provider customer resolves to no
// local agency. Orphans are acknowledged, not retried.
type orphanedEventError struct {
	customerID string
}

func (e *orphanedEventError) Error() string {
	return fmt.Sprintf("no agency for stripe customer %s", e.customerID)
}

// asAppError normalizes handler errors into an AppError so the response
// carries a stable error code. Wrapped AppErrors pass through; anything else
// becomes an internal error, which maps to a retryable 5xx.
func asAppError(err error) *types.AppError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, "webhook processing failed", err)
}
