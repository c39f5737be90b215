package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/api/validators"
	cartsvc "github.com/angelmondragon/campusmart-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

type addCartItemRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	SellerID  uuid.UUID       `json:"seller_id" validate:"required"`
	Name      string          `json:"name" validate:"required,max=200"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Image     string          `json:"image" validate:"omitempty,url"`
	Quantity  int             `json:"quantity" validate:"required,min=1,max=99"`
}

func (r addCartItemRequest) line() (types.CartLine, error) {
	if !r.UnitPrice.IsPositive() {
		return types.CartLine{}, pkgerrors.New(pkgerrors.CodeValidation, "unit_price must be positive").
			WithDetails(map[string]any{"unit_price": "must be greater than 0"})
	}
	line := types.CartLine{
		ProductID: r.ProductID,
		SellerID:  r.SellerID,
		Name:      r.Name,
		UnitPrice: r.UnitPrice,
		Image:     r.Image,
		Selected:  true,
	}
	if !line.WholeCents() {
		return types.CartLine{}, pkgerrors.New(pkgerrors.CodeValidation, "unit_price has too many decimal places").
			WithDetails(map[string]any{"unit_price": "at most 2 decimal places"})
	}
	return line, nil
}

type setQuantityRequest struct {
	Quantity int `json:"quantity" validate:"min=0,max=99"`
}

type selectionRequest struct {
	Selected *bool `json:"selected" validate:"required"`
}

// CartGet returns the caller's cart with queued operations overlaid on the stored document.
func CartGet(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.Get(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := payload.line()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCartView(w, r, logg)(svc.AddItem(r.Context(), userID, line, payload.Quantity))
	}
}

// CartSetQuantity sets an absolute quantity. The cart clamps values below 1 to 1.
func CartSetQuantity(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.URLParamUUID(r, "productID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload setQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCartView(w, r, logg)(svc.SetQuantity(r.Context(), userID, productID, payload.Quantity))
	}
}

func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.URLParamUUID(r, "productID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCartView(w, r, logg)(svc.RemoveItem(r.Context(), userID, productID))
	}
}

func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		writeCartView(w, r, logg)(svc.Clear(r.Context(), userID))
	}
}

func CartToggleItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.URLParamUUID(r, "productID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCartView(w, r, logg)(svc.ToggleSelection(r.Context(), userID, productID))
	}
}

// CartSelectAll marks every line selected or unselected.
func CartSelectAll(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var payload selectionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCartView(w, r, logg)(svc.ToggleAllSelection(r.Context(), userID, *payload.Selected))
	}
}

// CartSync forces a flush of queued operations. A failed flush still answers 200 with sync_status=pending.
func CartSync(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		writeCartView(w, r, logg)(svc.Sync(r.Context(), userID))
	}
}

func writeCartView(w http.ResponseWriter, r *http.Request, logg *logger.Logger) func(*cartsvc.View, error) {
	return func(view *cartsvc.View, err error) {
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == uuid.Nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}
	return userID, true
}
