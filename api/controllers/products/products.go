package products

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smartbizhq/smartbiz-backend/api/controllers/actorctx"
	"github.com/smartbizhq/smartbiz-backend/api/responses"
	"github.com/smartbizhq/smartbiz-backend/api/validators"
	internalproducts "github.com/smartbizhq/smartbiz-backend/internal/products"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type variantRequest struct {
	Name            string   `json:"name" validate:"required,max=80"`
	Options         []string `json:"options" validate:"required,min=1,dive,max=80"`
	PriceDeltaCents []int64  `json:"price_delta_cents,omitempty"`
}

type createRequest struct {
	Name           string           `json:"name" validate:"required,max=200"`
	Description    *string          `json:"description,omitempty" validate:"omitempty,max=5000"`
	Category       *string          `json:"category,omitempty" validate:"omitempty,max=120"`
	PriceCents     int              `json:"price_cents" validate:"required,min=0"`
	TrackInventory bool             `json:"track_inventory"`
	ImageURLs      []string         `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
	Variants       []variantRequest `json:"variants,omitempty" validate:"omitempty,dive"`
	InitialStock   *int             `json:"initial_stock,omitempty" validate:"omitempty,min=0"`
}

type updateRequest struct {
	Name           *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Description    *string          `json:"description,omitempty" validate:"omitempty,max=5000"`
	Category       *string          `json:"category,omitempty" validate:"omitempty,max=120"`
	PriceCents     *int             `json:"price_cents,omitempty" validate:"omitempty,min=0"`
	TrackInventory *bool            `json:"track_inventory,omitempty"`
	ImageURLs      []string         `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
	Variants       []variantRequest `json:"variants,omitempty" validate:"omitempty,dive"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type setStockRequest struct {
	Qty *int `json:"qty" validate:"required,min=0"`
}

func actorFor(a actorctx.Actor) internalproducts.ActorContext {
	return internalproducts.ActorContext{UserID: a.UserID, BusinessID: a.BusinessID, Role: a.Role}
}

func variantInputs(reqs []variantRequest) []internalproducts.VariantInput {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]internalproducts.VariantInput, 0, len(reqs))
	for _, v := range reqs {
		out = append(out, internalproducts.VariantInput{
			Name:            v.Name,
			Options:         v.Options,
			PriceDeltaCents: v.PriceDeltaCents,
		})
	}
	return out
}

// Create adds a catalog entry to the active business.
func Create(svc internalproducts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
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

		product, err := svc.Create(r.Context(), internalproducts.CreateInput{
			BusinessID:     businessID,
			Actor:          actorFor(actor),
			Name:           validators.SanitizeString(body.Name, 200),
			Description:    body.Description,
			Category:       body.Category,
			PriceCents:     body.PriceCents,
			TrackInventory: body.TrackInventory,
			ImageURLs:      body.ImageURLs,
			Variants:       variantInputs(body.Variants),
			InitialStock:   body.InitialStock,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

// Update mutates an existing product.
func Update(svc internalproducts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := validators.ParsePathUUID(chi.URLParam(r, "productId"), "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.Update(r.Context(), internalproducts.UpdateInput{
			ProductID:      productID,
			Actor:          actorFor(actor),
			Name:           body.Name,
			Description:    body.Description,
			Category:       body.Category,
			PriceCents:     body.PriceCents,
			TrackInventory: body.TrackInventory,
			ImageURLs:      body.ImageURLs,
			Variants:       variantInputs(body.Variants),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

// SetStatus moves a product between draft, active, and archived.
func SetStatus(svc internalproducts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := validators.ParsePathUUID(chi.URLParam(r, "productId"), "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body setStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseProductStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product status"))
			return
		}

		product, err := svc.SetStatus(r.Context(), actorFor(actor), productID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

// SetStock replaces the available quantity for a tracked product.
func SetStock(svc internalproducts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		actor, _, err := actorctx.ResolveBusiness(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := validators.ParsePathUUID(chi.URLParam(r, "productId"), "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body setStockRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetStock(r.Context(), actorFor(actor), productID, *body.Qty); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"qty": *body.Qty})
	}
}

// Detail returns one product.
func Detail(svc internalproducts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		actor, err := actorctx.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := validators.ParsePathUUID(chi.URLParam(r, "productId"), "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.Get(r.Context(), actorFor(actor), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}

// List returns a cursor page of the active business's catalog.
func List(svc internalproducts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
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

		filters := internalproducts.ListFilters{}
		if rawStatus := strings.TrimSpace(r.URL.Query().Get("status")); rawStatus != "" {
			status, err := enums.ParseProductStatus(rawStatus)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product status"))
				return
			}
			filters.Status = &status
		}
		if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
			filters.Category = &category
		}

		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := svc.List(r.Context(), actorFor(actor), businessID, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
