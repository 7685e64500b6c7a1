package handler

import (
	"time"

	"provenance/internal/audit"
	"provenance/pkg/domain"
)

type PayloadResponse struct {
	ProductID domain.ProductID `json:"product_id"`
	Payload   string           `json:"payload"`
	Form      string           `json:"form"`
}

type ResolveResponse struct {
	ID   domain.ProductID `json:"id"`
	Form string           `json:"form"`
}

type ExistResponse struct {
	ID    domain.ProductID `json:"id"`
	Exist bool             `json:"exist"`
}

type MintConfirmationResponse struct {
	ProductID    domain.ProductID `json:"product_id"`
	Manufacturer domain.Account   `json:"manufacturer"`
	Committed    bool             `json:"committed"`
}

// PendingResponse is written with 504 when finality was not observed in time.
type PendingResponse struct {
	Error            string           `json:"error"`
	ErrorDescription string           `json:"error_description"`
	ProductID        domain.ProductID `json:"product_id"`
	TxHash           string           `json:"tx_hash"`
}

type EventResponse struct {
	ID        string           `json:"id"`
	ProductID domain.ProductID `json:"product_id"`
	Action    audit.Action     `json:"action"`
	Actor     domain.Account   `json:"actor"`
	NewOwner  domain.Account   `json:"new_owner,omitempty"`
	TxHash    string           `json:"tx_hash"`
	Timestamp time.Time        `json:"timestamp"`
}

type EventsResponse struct {
	ProductID domain.ProductID `json:"product_id"`
	Events    []EventResponse  `json:"events"`
}

func toEventsResponse(id domain.ProductID, events []audit.Event) EventsResponse {
	out := EventsResponse{ProductID: id, Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, EventResponse{
			ID:        e.ID,
			ProductID: e.ProductID,
			Action:    e.Action,
			Actor:     e.Actor,
			NewOwner:  e.NewOwner,
			TxHash:    e.TxHash,
			Timestamp: e.Timestamp.UTC(),
		})
	}
	return out
}
