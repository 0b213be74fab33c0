package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartbizhq/smartbiz-backend/pkg/db/models"
	"github.com/smartbizhq/smartbiz-backend/pkg/enums"
	pkgerrors "github.com/smartbizhq/smartbiz-backend/pkg/errors"
	"github.com/smartbizhq/smartbiz-backend/pkg/metrics"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/payloads"
	"github.com/smartbizhq/smartbiz-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InventoryController adjusts stock inside the caller's transaction.
type InventoryController interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// UsageGate admits metered actions against the business's plan limits.
type UsageGate interface {
	CheckAndIncrement(ctx context.Context, tx *gorm.DB, businessID uuid.UUID, metric enums.UsageMetric, amount int64) (int64, error)
}

// ActorContext identifies who is performing an operation.
type ActorContext struct {
	UserID     uuid.UUID
	BusinessID *uuid.UUID
	Role       enums.ActorRole
}

// CreateItemInput is one requested line in a new order.
type CreateItemInput struct {
	ProductID         uuid.UUID
	Qty               int
	VariantSelections map[string]string
	Note              *string
}

// CreateInput carries everything needed to place an order.
type CreateInput struct {
	BusinessID    uuid.UUID
	Actor         ActorContext
	DeliveryMode  enums.DeliveryMode
	PaymentMethod enums.PaymentMethod
	Notes         *string
	Items         []CreateItemInput
}

// TransitionInput moves an order along the lifecycle.
type TransitionInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	Actor   ActorContext
}

// CancelInput cancels an order and restores tracked stock.
type CancelInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   ActorContext
}

// Service defines order lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) error
	Get(ctx context.Context, actor ActorContext, orderID uuid.UUID) (*models.Order, error)
	ListForBusiness(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error)
	ListForCustomer(ctx context.Context, actor ActorContext, params pagination.Params) (*OrderList, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	inventory InventoryController
	usage     UsageGate
	domain    *metrics.DomainMetrics
}

// NewService builds an order service with the required dependencies.
// The metrics recorder may be nil.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, inventory InventoryController, usage UsageGate, domain *metrics.DomainMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory controller required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage gate required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    outboxSvc,
		inventory: inventory,
		usage:     usage,
		domain:    domain,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item product id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
	}
	if input.DeliveryMode != "" && !input.DeliveryMode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery mode")
	}
	if input.PaymentMethod != "" && !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		// Each placed order sends one confirmation message to the
		// business, metered against its plan.
		if _, err := s.usage.CheckAndIncrement(ctx, tx, input.BusinessID, enums.UsageMetricMessagesSent, 1); err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(input.Items))
		for _, item := range input.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := repo.FindSellableProducts(ctx, input.BusinessID, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		byID := make(map[uuid.UUID]models.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}

		subtotal := 0
		lineItems := make([]models.OrderLineItem, 0, len(input.Items))
		for _, item := range input.Items {
			product, ok := byID[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, "product not available").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}

			if product.TrackInventory {
				if err := s.inventory.Reserve(ctx, tx, product.ID, item.Qty); err != nil {
					return err
				}
			}

			unitPrice := priceForSelections(product, item.VariantSelections)
			total := unitPrice * item.Qty
			subtotal += total

			lineItems = append(lineItems, models.OrderLineItem{
				ProductID:         product.ID,
				Name:              product.Name,
				UnitPriceCents:    unitPrice,
				Qty:               item.Qty,
				TotalCents:        total,
				TrackInventory:    product.TrackInventory,
				VariantSelections: item.VariantSelections,
				Note:              item.Note,
			})
		}

		order := &models.Order{
			BusinessID:    input.BusinessID,
			CustomerID:    input.Actor.UserID,
			Status:        enums.OrderStatusPending,
			DeliveryMode:  defaultDeliveryMode(input.DeliveryMode),
			PaymentMethod: defaultPaymentMethod(input.PaymentMethod),
			SubtotalCents: subtotal,
			TotalCents:    subtotal,
			Notes:         input.Notes,
		}
		if _, err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		for i := range lineItems {
			lineItems[i].OrderID = order.ID
		}
		if err := repo.CreateLineItems(ctx, lineItems); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create line items")
		}
		order.Items = lineItems

		created = order
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.Actor),
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				BusinessID:  order.BusinessID,
				CustomerID:  order.CustomerID,
				OrderNumber: order.OrderNumber,
				TotalCents:  order.TotalCents,
				ItemCount:   len(lineItems),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.To == enums.OrderStatusCancelled {
		if err := s.Cancel(ctx, CancelInput{OrderID: input.OrderID, Actor: input.Actor}); err != nil {
			return nil, err
		}
		return s.repo.FindOrder(ctx, input.OrderID)
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !actorManagesBusiness(input.Actor, order.BusinessID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to business")
		}
		if !CanTransition(order.Status, input.To) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed in current state").
				WithDetails(map[string]any{"from": order.Status, "to": input.To})
		}

		now := time.Now()
		changed, err := repo.UpdateStatusGuarded(ctx, order.ID, order.Status, input.To, timestampUpdates(input.To, now))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !changed {
			// Lost the race. Retry once against the fresh row before
			// surfacing a conflict.
			order, err = repo.FindOrder(ctx, input.OrderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			if !CanTransition(order.Status, input.To) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed in current state").
					WithDetails(map[string]any{"from": order.Status, "to": input.To})
			}
			changed, err = repo.UpdateStatusGuarded(ctx, order.ID, order.Status, input.To, timestampUpdates(input.To, now))
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
			if !changed {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
			}
		}

		from := order.Status
		order.Status = input.To
		applyTimestamp(order, input.To, now)
		updated = order

		s.domain.IncOrderTransition(from.String(), input.To.String())
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.Actor),
			Data: payloads.OrderStatusChangedEvent{
				OrderID:    order.ID,
				BusinessID: order.BusinessID,
				CustomerID: order.CustomerID,
				From:       from,
				To:         input.To,
				ChangedAt:  now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if err := s.authorizeCancel(input.Actor, order); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			return nil
		}
		if order.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "completed orders cannot be cancelled")
		}

		now := time.Now()
		updates := map[string]any{"canceled_at": now}
		if input.Reason != "" {
			updates["cancel_reason"] = input.Reason
		}
		changed, err := repo.UpdateStatusGuarded(ctx, order.ID, order.Status, enums.OrderStatusCancelled, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !changed {
			// Lost the race. A concurrent cancel already restored stock;
			// any other concurrent transition means cancel must re-check.
			current, err := repo.FindOrder(ctx, input.OrderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			if current.Status == enums.OrderStatusCancelled {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}

		items, err := repo.FindLineItemsByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
		}
		for _, item := range items {
			if !item.TrackInventory || item.Qty <= 0 {
				continue
			}
			if err := s.inventory.Release(ctx, tx, item.ProductID, item.Qty); err != nil {
				return err
			}
		}

		s.domain.IncOrderTransition(order.Status.String(), enums.OrderStatusCancelled.String())
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.Actor),
			Data: payloads.OrderCancelledEvent{
				OrderID:    order.ID,
				BusinessID: order.BusinessID,
				CustomerID: order.CustomerID,
				From:       order.Status,
				Reason:     input.Reason,
				CanceledAt: now,
			},
		})
	})
}

func (s *service) Get(ctx context.Context, actor ActorContext, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderWithItems(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.CustomerID != actor.UserID && !actorManagesBusiness(actor, order.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
	}
	return order, nil
}

func (s *service) ListForBusiness(ctx context.Context, actor ActorContext, businessID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id required")
	}
	if !actorManagesBusiness(actor, businessID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "business not accessible")
	}
	list, err := s.repo.ListBusinessOrders(ctx, businessID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (s *service) ListForCustomer(ctx context.Context, actor ActorContext, params pagination.Params) (*OrderList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListCustomerOrders(ctx, actor.UserID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (s *service) authorizeCancel(actor ActorContext, order *models.Order) error {
	if actorManagesBusiness(actor, order.BusinessID) {
		return nil
	}
	if order.CustomerID == actor.UserID {
		switch order.Status {
		case enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusCancelled:
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already being prepared")
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
}

func actorManagesBusiness(actor ActorContext, businessID uuid.UUID) bool {
	if actor.Role == enums.ActorRoleAdmin {
		return true
	}
	return actor.Role == enums.ActorRoleVendor &&
		actor.BusinessID != nil &&
		*actor.BusinessID == businessID
}

func priceForSelections(product models.Product, selections map[string]string) int {
	price := product.PriceCents
	if len(selections) == 0 {
		return price
	}
	for _, variant := range product.Variants {
		chosen, ok := selections[variant.Name]
		if !ok {
			continue
		}
		for i, option := range variant.Options {
			if option == chosen && i < len(variant.PriceDeltaCents) {
				price += int(variant.PriceDeltaCents[i])
			}
		}
	}
	return price
}

func timestampUpdates(to enums.OrderStatus, now time.Time) map[string]any {
	switch to {
	case enums.OrderStatusConfirmed:
		return map[string]any{"confirmed_at": now}
	case enums.OrderStatusReady:
		return map[string]any{"ready_at": now}
	case enums.OrderStatusCompleted:
		return map[string]any{"completed_at": now}
	}
	return nil
}

func applyTimestamp(order *models.Order, to enums.OrderStatus, now time.Time) {
	switch to {
	case enums.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case enums.OrderStatusReady:
		order.ReadyAt = &now
	case enums.OrderStatusCompleted:
		order.CompletedAt = &now
	}
}

func defaultDeliveryMode(mode enums.DeliveryMode) enums.DeliveryMode {
	if mode == "" {
		return enums.DeliveryModePickup
	}
	return mode
}

func defaultPaymentMethod(method enums.PaymentMethod) enums.PaymentMethod {
	if method == "" {
		return enums.PaymentMethodCash
	}
	return method
}

func buildActor(actor ActorContext) *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID:     actor.UserID,
		BusinessID: actor.BusinessID,
		Role:       actor.Role.String(),
	}
}
