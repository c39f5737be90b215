package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/api/validators"
	orderssvc "github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

type advanceStatusRequest struct {
	Status           string `json:"status" validate:"required"`
	ConfirmationCode string `json:"confirmation_code" validate:"omitempty,max=32"`
}

// OrdersList returns the buyer's orders, newest first.
func OrdersList(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func OrdersGet(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), orderID, orderssvc.Viewer{UserID: userID, Role: middleware.RoleFromContext(r.Context())})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// OrdersConfirmReceipt lets the buyer mark an in-flight order as received.
func OrdersConfirmReceipt(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.ConfirmReceipt(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// DispatchAdvanceStatus moves an order forward along the delivery pipeline.
func DispatchAdvanceStatus(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		if middleware.RoleFromContext(r.Context()) != enums.RoleDispatch {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "dispatch role required"))
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload advanceStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		next, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		detail, err := svc.AdvanceStatus(r.Context(), orderssvc.AdvanceStatusInput{
			OrderID:          orderID,
			ActorID:          userID,
			Next:             next,
			ConfirmationCode: payload.ConfirmationCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}
