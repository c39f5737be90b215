package controllers

import (
	"net/http"

	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/campusmart-backend/internal/checkout"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

type checkoutRequest struct {
	Source        string              `json:"source" validate:"omitempty,oneof=cart buy_now"`
	BuyNow        *addCartItemRequest `json:"buy_now"`
	Address       string              `json:"address" validate:"required,max=500"`
	PaymentMethod string              `json:"payment_method" validate:"required"`
	Pickup        *types.GeoPoint     `json:"pickup"`
	Dropoff       *types.GeoPoint     `json:"dropoff"`
}

func (r checkoutRequest) toInput() (checkoutsvc.SubmitInput, error) {
	input := checkoutsvc.SubmitInput{
		Source:  enums.OrderSourceCart,
		Address: r.Address,
		Pickup:  r.Pickup,
		Dropoff: r.Dropoff,
	}
	if r.Source != "" {
		source, err := enums.ParseOrderSource(r.Source)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source")
		}
		input.Source = source
	}
	method, err := enums.ParsePaymentMethod(r.PaymentMethod)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method")
	}
	input.PaymentMethod = method

	if input.Source == enums.OrderSourceBuyNow {
		if r.BuyNow == nil {
			return input, pkgerrors.New(pkgerrors.CodeValidation, "buy_now item required")
		}
		line, err := r.BuyNow.line()
		if err != nil {
			return input, err
		}
		line.Quantity = r.BuyNow.Quantity
		input.BuyNow = &line
	}
	return input, nil
}

// CheckoutSubmit turns the selected cart lines (or a single buy-now item) into an order.
func CheckoutSubmit(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Submit(r.Context(), userID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, order)
	}
}
