package businesses

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartbizhq/smartbiz-backend/api/controllers/actorctx"
	"github.com/smartbizhq/smartbiz-backend/api/responses"
	"github.com/smartbizhq/smartbiz-backend/api/validators"
	internalbusinesses "github.com/smartbizhq/smartbiz-backend/internal/businesses"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
)

type createRequest struct {
	Name        string          `json:"name" validate:"required,max=160"`
	Slug        string          `json:"slug" validate:"required,min=3,max=80"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=2000"`
	Phone       *string         `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email       *string         `json:"email,omitempty" validate:"omitempty,email"`
	Address     *string         `json:"address,omitempty" validate:"omitempty,max=500"`
	Timezone    string          `json:"timezone,omitempty" validate:"omitempty,max=64"`
	PlanTier    string          `json:"plan_tier,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

type updateRequest struct {
	Name        *string         `json:"name,omitempty" validate:"omitempty,max=160"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=2000"`
	Phone       *string         `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email       *string         `json:"email,omitempty" validate:"omitempty,email"`
	Address     *string         `json:"address,omitempty" validate:"omitempty,max=500"`
	Timezone    *string         `json:"timezone,omitempty" validate:"omitempty,max=64"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func actorFor(a actorctx.Actor) internalbusinesses.ActorContext {
	return internalbusinesses.ActorContext{UserID: a.UserID, BusinessID: a.BusinessID, Role: a.Role}
}

// Create opens a business tenant owned by the caller.
func Create(svc internalbusinesses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "business service unavailable"))
			return
		}

		actor, err := actorctx.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tier := enums.PlanTierFree
		if body.PlanTier != "" {
			parsed, err := enums.ParsePlanTier(body.PlanTier)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan tier"))
				return
			}
			tier = parsed
		}

		business, err := svc.Create(r.Context(), internalbusinesses.CreateInput{
			Actor:       actorFor(actor),
			Name:        validators.SanitizeString(body.Name, 160),
			Slug:        validators.SanitizeString(body.Slug, 80),
			Description: body.Description,
			Phone:       body.Phone,
			Email:       body.Email,
			Address:     body.Address,
			Timezone:    body.Timezone,
			PlanTier:    tier,
			Settings:    body.Settings,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, business)
	}
}

// Update mutates profile fields on the active business.
func Update(svc internalbusinesses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "business service unavailable"))
			return
		}

		actor, businessID, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		business, err := svc.Update(r.Context(), internalbusinesses.UpdateInput{
			BusinessID:  businessID,
			Actor:       actorFor(actor),
			Name:        body.Name,
			Description: body.Description,
			Phone:       body.Phone,
			Email:       body.Email,
			Address:     body.Address,
			Timezone:    body.Timezone,
			Settings:    body.Settings,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, business)
	}
}

// SetActive toggles whether the business accepts traffic.
func SetActive(svc internalbusinesses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "business service unavailable"))
			return
		}

		actor, businessID, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body setActiveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetActive(r.Context(), actorFor(actor), businessID, *body.Active); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"active": *body.Active})
	}
}

// Profile returns the active business.
func Profile(svc internalbusinesses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "business service unavailable"))
			return
		}

		_, businessID, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		business, err := svc.Get(r.Context(), businessID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, business)
	}
}

// ListMine returns every business owned by the caller.
func ListMine(svc internalbusinesses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "business service unavailable"))
			return
		}

		actor, err := actorctx.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForOwner(r.Context(), actorFor(actor))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"businesses": list})
	}
}

// PublicStorefront resolves a business by its public slug.
func PublicStorefront(svc internalbusinesses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "business service unavailable"))
			return
		}

		slug := validators.SanitizeString(chi.URLParam(r, "slug"), 80)
		if slug == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "slug is required"))
			return
		}

		business, err := svc.GetBySlug(r.Context(), slug)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, business)
	}
}
