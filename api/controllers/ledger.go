package controllers

import (
	"net/http"

	"github.com/angelmondragon/campusmart-backend/api/responses"
	ledgersvc "github.com/angelmondragon/campusmart-backend/internal/ledger"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

// LedgerBalance reports held and released funds for the calling seller.
func LedgerBalance(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}
