package contacts

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smartbizhq/smartbiz-backend/api/controllers/actorctx"
	"github.com/smartbizhq/smartbiz-backend/api/responses"
	"github.com/smartbizhq/smartbiz-backend/api/validators"
	internalcontacts "github.com/smartbizhq/smartbiz-backend/internal/contacts"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type sendBroadcastRequest struct {
	Subject     string   `json:"subject" validate:"required,max=200"`
	Body        string   `json:"body" validate:"required,max=10000"`
	SegmentTags []string `json:"segment_tags,omitempty" validate:"omitempty,dive,max=64"`
}

type receiveReplyRequest struct {
	ContactID uuid.UUID `json:"contact_id" validate:"required"`
	Body      string    `json:"body" validate:"required,max=10000"`
}

// SendBroadcast sends a message to a tagged segment of the contact book.
func SendBroadcast(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
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

		var body sendBroadcastRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		broadcast, err := svc.SendBroadcast(r.Context(), internalcontacts.SendBroadcastInput{
			BusinessID:  businessID,
			Actor:       actorFor(actor),
			Subject:     validators.SanitizeString(body.Subject, 200),
			Body:        body.Body,
			SegmentTags: body.SegmentTags,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, broadcast)
	}
}

// BroadcastDetail returns one broadcast.
func BroadcastDetail(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
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

		broadcastID, err := validators.ParsePathUUID(chi.URLParam(r, "broadcastId"), "broadcastId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		broadcast, err := svc.GetBroadcast(r.Context(), actorFor(actor), broadcastID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, broadcast)
	}
}

// ListBroadcasts returns a cursor page of sent broadcasts.
func ListBroadcasts(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
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

		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := svc.ListBroadcasts(r.Context(), actorFor(actor), businessID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// ReceiveReply threads an inbound reply onto a broadcast. The sender is
// a contact, not an authenticated user, so the route is public.
func ReceiveReply(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contact service unavailable"))
			return
		}

		broadcastID, err := validators.ParsePathUUID(chi.URLParam(r, "broadcastId"), "broadcastId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body receiveReplyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reply, err := svc.ReceiveReply(r.Context(), internalcontacts.ReceiveReplyInput{
			BroadcastID: broadcastID,
			ContactID:   body.ContactID,
			Body:        body.Body,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, reply)
	}
}

// ListReplies returns the reply thread for one broadcast.
func ListReplies(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
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

		broadcastID, err := validators.ParsePathUUID(chi.URLParam(r, "broadcastId"), "broadcastId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		replies, err := svc.ListReplies(r.Context(), actorFor(actor), broadcastID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"replies": replies})
	}
}

// MarkReplyRead marks one reply as read.
func MarkReplyRead(svc internalcontacts.Service, logg *logger.Logger) http.HandlerFunc {
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

		broadcastID, err := validators.ParsePathUUID(chi.URLParam(r, "broadcastId"), "broadcastId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		replyID, err := validators.ParsePathUUID(chi.URLParam(r, "replyId"), "replyId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.MarkReplyRead(r.Context(), actorFor(actor), broadcastID, replyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "read"})
	}
}
