package actorctx

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/api/middleware"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
)

// Actor is the authenticated caller as seen by the HTTP layer.
type Actor struct {
	UserID     uuid.UUID
	BusinessID *uuid.UUID
	Role       enums.ActorRole
}

// Resolve extracts the authenticated actor from the request context.
func Resolve(r *http.Request) (Actor, error) {
	ctx := r.Context()

	rawUser := middleware.UserIDFromContext(ctx)
	if rawUser == "" {
		return Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}

	role, err := enums.ParseActorRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return Actor{}, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "unknown actor role")
	}

	actor := Actor{UserID: userID, Role: role}
	if rawBusiness := middleware.BusinessIDFromContext(ctx); rawBusiness != "" {
		businessID, err := uuid.Parse(rawBusiness)
		if err != nil {
			return Actor{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid business id")
		}
		actor.BusinessID = &businessID
	}
	return actor, nil
}

// ResolveBusiness extracts the actor and requires an active business claim.
func ResolveBusiness(r *http.Request) (Actor, uuid.UUID, error) {
	actor, err := Resolve(r)
	if err != nil {
		return Actor{}, uuid.Nil, err
	}
	if actor.BusinessID == nil || *actor.BusinessID == uuid.Nil {
		return Actor{}, uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "business context required")
	}
	return actor, *actor.BusinessID, nil
}
