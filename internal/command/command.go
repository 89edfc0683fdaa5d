// Package command defines the inputs accepted by the engine's callers and
// validates them before anything touches the ledger.
package command

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"stream-billing/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// UpdateCam2CamPricing replaces the given duration rates of a streamer's
// tier. Nil rates are left as they are.
type UpdateCam2CamPricing struct {
	StreamerID     int64            `json:"streamer_id" validate:"required,gt=0"`
	StreamerHandle string           `json:"streamer_handle" validate:"max=64"`
	Rate15         *decimal.Decimal `json:"rate_15" validate:"omitempty,credits"`
	Rate30         *decimal.Decimal `json:"rate_30" validate:"omitempty,credits"`
	Rate45         *decimal.Decimal `json:"rate_45" validate:"omitempty,credits"`
	Rate60         *decimal.Decimal `json:"rate_60" validate:"omitempty,credits"`
}

type UpdatePyramidRoom struct {
	RoomID int64            `json:"room_id" validate:"required,gt=0"`
	Rate   *decimal.Decimal `json:"rate" validate:"omitempty,credits"`
	Pinned *bool            `json:"pinned"`
}

type ListCam2CamRooms struct {
	Page     int    `json:"page" validate:"gte=1"`
	PageSize int    `json:"page_size" validate:"gte=1,lte=100"`
	Search   string `json:"search" validate:"max=100"`
}

// Defaults fills the paging fields left at zero.
func (c *ListCam2CamRooms) Defaults() {
	if c.Page == 0 {
		c.Page = 1
	}
	if c.PageSize == 0 {
		c.PageSize = 10
	}
	c.Search = strings.TrimSpace(c.Search)
}

func (c ListCam2CamRooms) Offset() int {
	return (c.Page - 1) * c.PageSize
}

type StartSession struct {
	StreamerID int64  `json:"streamer_id" validate:"required,gt=0"`
	RoomType   string `json:"room_type" validate:"required,oneof=pyramid cam2cam"`
	RoomID     int64  `json:"room_id" validate:"required_if=RoomType pyramid,gte=0"`
}

type EndSession struct {
	SessionID string `json:"session_id" validate:"required"`
	Kind      string `json:"kind" validate:"omitempty,oneof=normal disconnected kicked room_closed"`
}

type EnterSession struct {
	SessionID       string `json:"session_id" validate:"required"`
	ViewerID        int64  `json:"viewer_id" validate:"required,gt=0"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=600"`
}

type CreatePurchase struct {
	AccountID        int64           `json:"account_id" validate:"required,gt=0"`
	CreditsPurchased decimal.Decimal `json:"credits_purchased" validate:"credits"`
	AmountCharged    decimal.Decimal `json:"amount_charged" validate:"money"`
	DiscountApplied  decimal.Decimal `json:"discount_applied" validate:"money"`
	GatewayRef       string          `json:"gateway_ref" validate:"max=128"`
}

// PaymentEvent is a confirmation delivered by the payment gateway.
type PaymentEvent struct {
	PurchaseID string `json:"purchase_id" validate:"required_without=GatewayRef"`
	GatewayRef string `json:"gateway_ref" validate:"required_without=PurchaseID,max=128"`
	Status     string `json:"status" validate:"required,oneof=completed failed refunded"`
	Reason     string `json:"reason" validate:"max=512"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})
		_ = v.RegisterValidation("credits", validCredits)
		_ = v.RegisterValidation("money", validMoney)
		validate = v
	})
	return validate
}

// validCredits accepts positive amounts with at most 2 decimal places.
func validCredits(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Equal(d.Truncate(2))
}

// validMoney accepts non-negative amounts with at most 2 decimal places.
func validMoney(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return !d.IsNegative() && d.Equal(d.Truncate(2))
}

// Validate checks cmd and reports the first failing field as an
// apperr.ValidationError.
func Validate(cmd any) error {
	err := instance().Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Invalid(fe.Field(), describe(fe))
	}
	return apperr.Invalid("", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "is required"
	case "credits":
		return "must be a positive number with at most 2 decimal places"
	case "money":
		return "must be a non-negative number with at most 2 decimal places"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}
