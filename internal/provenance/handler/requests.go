package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"provenance/internal/provenance/codec"
	"provenance/internal/provenance/models"
	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	mustRegister("account", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseAccount(fl.Field().String())
		return err == nil
	})
	mustRegister("product_id", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseProductID(fl.Field().String())
		return err == nil
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// validationError turns the first failed tag into a CodeValidation error.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is required", field))
	case "account":
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be a 0x-prefixed account address", field))
	case "product_id":
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is not a valid product id", field))
	case "max":
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
	default:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
	}
}

type MetadataRequest struct {
	Name            string            `json:"name" validate:"required"`
	Description     string            `json:"description"`
	ManufactureDate string            `json:"manufacture_date"`
	ContentLink     *string           `json:"content_link,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

func (m MetadataRequest) toModel() *models.Metadata {
	return &models.Metadata{
		Name:            m.Name,
		Description:     m.Description,
		ManufactureDate: m.ManufactureDate,
		ContentLink:     m.ContentLink,
		Attributes:      m.Attributes,
	}
}

// MintRequest registers a new product under the request signer.
type MintRequest struct {
	ID       string          `json:"id" validate:"required,product_id"`
	Metadata MetadataRequest `json:"metadata"`
}

// Validate leaves metadata exactly as sent; the ledger stores it verbatim.
func (r *MintRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	name := strings.TrimSpace(r.Metadata.Name)
	if name != "" && name != r.Metadata.Name {
		return dErrors.New(dErrors.CodeValidation, "metadata name must not start or end with whitespace")
	}
	return codec.Validate(r.Metadata.toModel())
}

// TransferRequest hands a product to a new owner. The address is checked
// again by the registry, which reports InvalidTransfer for a bad one.
type TransferRequest struct {
	NewOwner string `json:"new_owner" validate:"required"`
}

func (r *TransferRequest) Validate() error {
	r.NewOwner = strings.TrimSpace(r.NewOwner)
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// ResolveRequest carries the raw text read from a QR code.
type ResolveRequest struct {
	Payload string `json:"payload" validate:"required,max=2048"`
}

func (r *ResolveRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

type verifyQuery struct {
	Manufacturer string `validate:"required,account"`
}

func (q verifyQuery) Validate() error {
	if err := validate.Struct(q); err != nil {
		return validationError(err)
	}
	return nil
}
