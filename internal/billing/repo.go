package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/launchkit-backend/pkg/db/models"
	"github.com/angelmondragon/launchkit-backend/pkg/enums"
)

// Repository handles billing persistence. Subscription writes key on the Stripe subscription id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureCustomer(ctx context.Context, customer *models.Customer) (*models.Customer, bool, error)
	FindCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error)
	InsertSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error)
	UpsertSubscription(ctx context.Context, subscription *models.Subscription) (bool, error)
	CancelSubscription(ctx context.Context, stripeSubscriptionID string, cancel Cancellation) (bool, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpsertProduct(ctx context.Context, product *models.Product) (bool, error)
	UpsertPrice(ctx context.Context, price *models.Price) (bool, error)
	FindPrice(ctx context.Context, id string) (*models.Price, error)
	FindProduct(ctx context.Context, id string) (*models.Product, error)
}

// Cancellation carries the terminal fields written by a subscription deletion.
type Cancellation struct {
	CanceledAt *time.Time
	EndedAt    *time.Time
	EventAt    time.Time
}

var subscriptionSyncColumns = []string{
	"user_id",
	"customer_id",
	"stripe_customer_id",
	"status",
	"price_id",
	"plan",
	"quantity",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"cancel_at",
	"canceled_at",
	"ended_at",
	"trial_start",
	"trial_end",
	"metadata",
	"last_event_at",
	"updated_at",
}

var catalogSyncColumns = map[string][]string{
	"products": {"active", "name", "description", "metadata", "last_event_at", "updated_at"},
	"prices": {
		"product_id", "active", "currency", "unit_amount", "type", "interval",
		"interval_count", "nickname", "metadata", "last_event_at", "updated_at",
	},
}

var entitledFirst = "CASE WHEN status IN ('" + string(enums.SubscriptionStatusActive) + "', '" +
	string(enums.SubscriptionStatusTrialing) + "') THEN 0 ELSE 1 END"

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// EnsureCustomer links the account to the Stripe customer. The bool reports whether a row was created.
func (r *repository) EnsureCustomer(ctx context.Context, customer *models.Customer) (*models.Customer, bool, error) {
	if customer == nil || customer.UserID == "" || customer.StripeCustomerID == "" {
		return nil, false, errors.New("customer user id and stripe customer id are required")
	}

	existing, err := r.FindCustomerByUserID(ctx, customer.UserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		updates := map[string]any{}
		if existing.StripeCustomerID != customer.StripeCustomerID {
			updates["stripe_customer_id"] = customer.StripeCustomerID
		}
		if customer.Email != nil && (existing.Email == nil || *existing.Email != *customer.Email) {
			updates["email"] = *customer.Email
		}
		if len(updates) == 0 {
			return existing, false, nil
		}
		updates["updated_at"] = time.Now().UTC()
		if err := r.db.WithContext(ctx).
			Model(&models.Customer{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return nil, false, err
		}
		refreshed, err := r.FindCustomerByUserID(ctx, customer.UserID)
		return refreshed, false, err
	}

	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(customer)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		raced, err := r.FindCustomerByUserID(ctx, customer.UserID)
		return raced, false, err
	}
	return customer, true, nil
}

func (r *repository) FindCustomerByUserID(ctx context.Context, userID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) InsertSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error) {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoNothing: true,
		}).
		Create(subscription)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpsertSubscription inserts or overwrites the row for the Stripe subscription id. A canceled row is
// never overwritten, and neither is a row already holding a newer event. The bool reports whether a
// row was written.
func (r *repository) UpsertSubscription(ctx context.Context, subscription *models.Subscription) (bool, error) {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	subscription.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns(subscriptionSyncColumns),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "subscriptions.status <> ?", Vars: []any{enums.SubscriptionStatusCanceled}},
				clause.Expr{SQL: "subscriptions.last_event_at <= excluded.last_event_at"},
			}},
		}).
		Create(subscription)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CancelSubscription(ctx context.Context, stripeSubscriptionID string, cancel Cancellation) (bool, error) {
	updates := map[string]any{
		"status":               enums.SubscriptionStatusCanceled,
		"cancel_at_period_end": false,
		"last_event_at":        gorm.Expr("CASE WHEN last_event_at < ? THEN ? ELSE last_event_at END", cancel.EventAt, cancel.EventAt),
		"updated_at":           time.Now().UTC(),
	}
	if cancel.CanceledAt != nil {
		updates["canceled_at"] = *cancel.CanceledAt
	}
	if cancel.EndedAt != nil {
		updates["ended_at"] = *cancel.EndedAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Where("status <> ?", enums.SubscriptionStatusCanceled).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindCurrentSubscription prefers an entitled subscription, then the most recently changed one.
func (r *repository) FindCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(entitledFirst).
		Order("last_event_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpsertProduct(ctx context.Context, product *models.Product) (bool, error) {
	product.UpdatedAt = time.Now().UTC()
	return r.upsertCatalog(ctx, "products", product)
}

func (r *repository) UpsertPrice(ctx context.Context, price *models.Price) (bool, error) {
	price.UpdatedAt = time.Now().UTC()
	return r.upsertCatalog(ctx, "prices", price)
}

func (r *repository) upsertCatalog(ctx context.Context, table string, row any) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(catalogSyncColumns[table]),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: table + ".last_event_at <= excluded.last_event_at"},
			}},
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindPrice(ctx context.Context, id string) (*models.Price, error) {
	var price models.Price
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&price).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

func (r *repository) FindProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}
