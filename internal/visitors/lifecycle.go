package visitors

import (
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
)

// CanTransition reports whether to is the single status that follows from.
func CanTransition(from, to enums.VisitorStatus) bool {
	next, ok := from.Next()
	return ok && next == to
}

// ValidateTransition returns INVALID_TRANSITION when the move is not legal.
func ValidateTransition(from, to enums.VisitorStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "cannot move visitor from "+from.String()+" to "+to.String()).
		WithDetails(map[string]any{"from": from, "to": to})
}
