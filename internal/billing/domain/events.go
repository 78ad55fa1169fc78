// Package domain models the billing provider's webhook events as a closed
// set of typed variants. Decoding is strict: each variant checks the fields
// it requires up front instead of probing optional fields downstream.
package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type EventType string

const (
	EventInitialPurchase     EventType = "INITIAL_PURCHASE"
	EventRenewal             EventType = "RENEWAL"
	EventCancellation        EventType = "CANCELLATION"
	EventExpiration          EventType = "EXPIRATION"
	EventProductChange       EventType = "PRODUCT_CHANGE"
	EventTransfer            EventType = "TRANSFER"
	EventNonRenewingPurchase EventType = "NON_RENEWING_PURCHASE"
)

var (
	ErrMalformedPayload = errors.New("malformed_payload")
	ErrMissingAppUserID = errors.New("missing_app_user_id")
	ErrMissingFields    = errors.New("missing_event_fields")
)

// Event is one decoded webhook variant.
type Event interface {
	EventType() EventType
}

// PurchaseEvent covers INITIAL_PURCHASE and RENEWAL.
type PurchaseEvent struct {
	Type           EventType
	AppUserID      string
	EntitlementIDs []string
	ExpiresAt      *time.Time
	IsTrial        bool
}

func (e PurchaseEvent) EventType() EventType { return e.Type }

// CancellationEvent leaves the entitlement active for its remaining term but
// switches auto-renew off.
type CancellationEvent struct {
	AppUserID      string
	EntitlementIDs []string
	ExpiresAt      *time.Time
	IsTrial        bool
}

func (CancellationEvent) EventType() EventType { return EventCancellation }

type ExpirationEvent struct {
	AppUserID      string
	EntitlementIDs []string
	ExpiresAt      *time.Time
}

func (ExpirationEvent) EventType() EventType { return EventExpiration }

// ProductChangeEvent activates the new entitlements; all other tier-defining
// entitlements of the user get superseded.
type ProductChangeEvent struct {
	AppUserID      string
	EntitlementIDs []string
	ExpiresAt      *time.Time
}

func (ProductChangeEvent) EventType() EventType { return EventProductChange }

// TransferEvent moves entitlements between accounts. Some providers omit
// app_user_id on transfers; the target identity is then recovered from
// transferred_to.
type TransferEvent struct {
	AppUserID       string
	EntitlementIDs  []string
	TransferredFrom []string
	ExpiresAt       *time.Time
}

func (TransferEvent) EventType() EventType { return EventTransfer }

// CreditPurchaseEvent is a consumable purchase routed to the credit ledger.
type CreditPurchaseEvent struct {
	AppUserID     string
	ProductID     string
	TransactionID string
	Store         string
}

func (CreditPurchaseEvent) EventType() EventType { return EventNonRenewingPurchase }

// UnknownEvent is any type outside the handled set. Processing acknowledges
// it without side effects.
type UnknownEvent struct {
	Type EventType
}

func (e UnknownEvent) EventType() EventType { return e.Type }

type envelope struct {
	Event rawEvent `json:"event"`
}

type rawEvent struct {
	Type            string   `json:"type"`
	AppUserID       string   `json:"app_user_id"`
	EntitlementIDs  []string `json:"entitlement_ids"`
	ExpirationAtMs  int64    `json:"expiration_at_ms"`
	PeriodType      string   `json:"period_type"`
	TransferredFrom []string `json:"transferred_from"`
	TransferredTo   []string `json:"transferred_to"`
	ProductID       string   `json:"product_id"`
	TransactionID   string   `json:"transaction_id"`
	PurchasedAtMs   int64    `json:"purchased_at_ms"`
	Store           string   `json:"store"`
}

// Decode parses a webhook body into its typed variant.
func Decode(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrMalformedPayload
	}
	raw := env.Event
	eventType := EventType(strings.ToUpper(strings.TrimSpace(raw.Type)))
	if eventType == "" {
		return nil, ErrMalformedPayload
	}

	switch eventType {
	case EventInitialPurchase, EventRenewal:
		if err := requireIdentity(raw.AppUserID); err != nil {
			return nil, err
		}
		if len(raw.EntitlementIDs) == 0 {
			return nil, ErrMissingFields
		}
		return PurchaseEvent{
			Type:           eventType,
			AppUserID:      raw.AppUserID,
			EntitlementIDs: raw.EntitlementIDs,
			ExpiresAt:      msToTime(raw.ExpirationAtMs),
			IsTrial:        strings.EqualFold(raw.PeriodType, "TRIAL"),
		}, nil

	case EventCancellation:
		if err := requireIdentity(raw.AppUserID); err != nil {
			return nil, err
		}
		if len(raw.EntitlementIDs) == 0 {
			return nil, ErrMissingFields
		}
		return CancellationEvent{
			AppUserID:      raw.AppUserID,
			EntitlementIDs: raw.EntitlementIDs,
			ExpiresAt:      msToTime(raw.ExpirationAtMs),
			IsTrial:        strings.EqualFold(raw.PeriodType, "TRIAL"),
		}, nil

	case EventExpiration:
		if err := requireIdentity(raw.AppUserID); err != nil {
			return nil, err
		}
		if len(raw.EntitlementIDs) == 0 {
			return nil, ErrMissingFields
		}
		return ExpirationEvent{
			AppUserID:      raw.AppUserID,
			EntitlementIDs: raw.EntitlementIDs,
			ExpiresAt:      msToTime(raw.ExpirationAtMs),
		}, nil

	case EventProductChange:
		if err := requireIdentity(raw.AppUserID); err != nil {
			return nil, err
		}
		if len(raw.EntitlementIDs) == 0 {
			return nil, ErrMissingFields
		}
		return ProductChangeEvent{
			AppUserID:      raw.AppUserID,
			EntitlementIDs: raw.EntitlementIDs,
			ExpiresAt:      msToTime(raw.ExpirationAtMs),
		}, nil

	case EventTransfer:
		appUserID := strings.TrimSpace(raw.AppUserID)
		if appUserID == "" && len(raw.TransferredTo) > 0 {
			appUserID = strings.TrimSpace(raw.TransferredTo[0])
		}
		if appUserID == "" {
			return nil, ErrMissingAppUserID
		}
		if len(raw.EntitlementIDs) == 0 {
			return nil, ErrMissingFields
		}
		return TransferEvent{
			AppUserID:       appUserID,
			EntitlementIDs:  raw.EntitlementIDs,
			TransferredFrom: raw.TransferredFrom,
			ExpiresAt:       msToTime(raw.ExpirationAtMs),
		}, nil

	case EventNonRenewingPurchase:
		if err := requireIdentity(raw.AppUserID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(raw.TransactionID) == "" || strings.TrimSpace(raw.ProductID) == "" {
			return nil, ErrMissingFields
		}
		return CreditPurchaseEvent{
			AppUserID:     raw.AppUserID,
			ProductID:     raw.ProductID,
			TransactionID: raw.TransactionID,
			Store:         raw.Store,
		}, nil

	default:
		return UnknownEvent{Type: eventType}, nil
	}
}

func requireIdentity(appUserID string) error {
	if strings.TrimSpace(appUserID) == "" {
		return ErrMissingAppUserID
	}
	return nil
}

func msToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
