package helpers

import (
	"strings"

	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// NormalizeAddress trims the delivery address and rejects blanks.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.Join(strings.Fields(address), " ")
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "address required")
	}
	return trimmed, nil
}

// ValidateRoute checks the optional pickup and dropoff coordinates.
func ValidateRoute(pickup, dropoff *types.GeoPoint) error {
	for name, point := range map[string]*types.GeoPoint{"pickup": pickup, "dropoff": dropoff} {
		if point == nil {
			continue
		}
		if err := point.Validate(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name+" coordinates")
		}
	}
	return nil
}
