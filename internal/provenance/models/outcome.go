package models

import "provenance/pkg/domain"

// TxStatus is the final state reported for a mutating operation.
type TxStatus string

const (
	TxStatusCommitted TxStatus = "committed"
)

// TxKind names the mutating operation.
type TxKind string

const (
	TxKindMint     TxKind = "mint"
	TxKindTransfer TxKind = "transfer"
)

// TransactionOutcome describes a committed ledger mutation.
type TransactionOutcome struct {
	Kind      TxKind           `json:"kind"`
	ProductID domain.ProductID `json:"product_id"`
	Signer    domain.Account   `json:"signer"`
	NewOwner  domain.Account   `json:"new_owner,omitempty"`
	TxHash    string           `json:"tx_hash"`
	Nonce     uint64           `json:"nonce"`
	Status    TxStatus         `json:"status"`
}

// Verification is the authenticity judgment for a product id. When Exists is
// false every optional field is nil and IsAuthentic is false.
type Verification struct {
	ProductID     domain.ProductID `json:"product_id"`
	Exists        bool             `json:"exists"`
	IsAuthentic   bool             `json:"is_authentic"`
	Manufacturer  *domain.Account  `json:"manufacturer,omitempty"`
	CurrentOwner  *domain.Account  `json:"current_owner,omitempty"`
	TransferCount *int             `json:"transfer_count,omitempty"`
}
