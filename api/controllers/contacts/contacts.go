package contacts

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smartbizhq/smartbiz-backend/api/controllers/actorctx"
	"github.com/smartbizhq/smartbiz-backend/api/responses"
	"github.com/smartbizhq/smartbiz-backend/api/validators"
	internalcontacts "github.com/smartbizhq/smartbiz-backend/internal/contacts"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type createRequest struct {
	Name  string   `json:"name" validate:"required,max=160"`
	Email *string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone *string  `json:"phone,omitempty" validate:"omitempty,max=32"`
	Tags  []string `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
}

type updateRequest struct {
	Name  *string  `json:"name,omitempty" validate:"omitempty,max=160"`
	Email *string  `json:"email,omitempty" validate:"omitempty,email"`
	Phone *string  `json:"phone,omitempty" validate:"omitempty,max=32"`
	Tags  []string `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
}

type optOutRequest struct {
	OptedOut *bool `json:"opted_out" validate:"required"`
}

func actorFor(a actorctx.Actor) internalcontacts.ActorContext {
	return internalcontacts.ActorContext{UserID: a.UserID, BusinessID: a.BusinessID, Role: a.Role}
}

// Create adds a contact to the active business's book.
func Create(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		actor, businessID, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contact, err := svc.CreateContact(r.Context(), internalcontacts.CreateContactInput{
			BusinessID: businessID,
			Actor:      actorFor(actor),
			Name:       validators.SanitizeString(body.Name, 160),
			Email:      body.Email,
			Phone:      body.Phone,
			Tags:       body.Tags,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, contact)
	}
}

// Update mutates an existing contact.
func Update(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contactID, err := validators.ParsePathUUID(chi.URLParam(r, "contactId"), "contactId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contact, err := svc.UpdateContact(r.Context(), internalcontacts.UpdateContactInput{
			ContactID: contactID,
			Actor:     actorFor(actor),
			Name:      body.Name,
			Email:     body.Email,
			Phone:     body.Phone,
			Tags:      body.Tags,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, contact)
	}
}

// SetOptOut flips the messaging consent flag.
func SetOptOut(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contactID, err := validators.ParsePathUUID(chi.URLParam(r, "contactId"), "contactId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body optOutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetOptOut(r.Context(), actorFor(actor), contactID, *body.OptedOut); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"opted_out": *body.OptedOut})
	}
}

// Delete removes a contact.
func Delete(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contactID, err := validators.ParsePathUUID(chi.URLParam(r, "contactId"), "contactId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteContact(r.Context(), actorFor(actor), contactID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// Detail returns one contact.
func Detail(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contactID, err := validators.ParsePathUUID(chi.URLParam(r, "contactId"), "contactId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		contact, err := svc.GetContact(r.Context(), actorFor(actor), contactID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, contact)
	}
}

// List returns a cursor page of the contact book.
func List(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		actor, businessID, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters := internalcontacts.ContactFilters{}
		if tag := strings.TrimSpace(r.URL.Query().Get("tag")); tag != "" {
			filters.Tag = &tag
		}
		if rawOptedOut := strings.TrimSpace(r.URL.Query().Get("optedOut")); rawOptedOut != "" {
			optedOut, err := validators.ParseQueryBool(r, "optedOut", false)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			filters.OptedOut = &optedOut
		}

		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := svc.ListContacts(r.Context(), actorFor(actor), businessID, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
