package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/andrelucass/fruteira/internal/events"
	"github.com/andrelucass/fruteira/internal/logging"
	"github.com/andrelucass/fruteira/internal/models"
	"github.com/andrelucass/fruteira/internal/notify"
)

var (
	ErrValidation        = errors.New("validation")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("empty cart")
)

type Notifier interface {
	NotifyOrder(ctx context.Context, o notify.OrderNotification) bool
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

// Service owns the cart rows and the checkout flow. Callers always pass the
// authenticated user id explicitly, nothing here reads ambient session state.
type Service struct {
	DB       *gorm.DB
	Notifier Notifier
	Mailer   *notify.OrderMailer
	Events   EventPublisher
}

// Line is a cart row enriched with catalog data joined at read time.
type Line struct {
	ID        uint    `json:"id"`
	ProductID uint    `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  uint    `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
}

type Confirmation struct {
	OrderID uint               `json:"order_id"`
	Number  string             `json:"number"`
	Total   float64            `json:"total"`
	Items   []models.OrderItem `json:"items"`
}

// AddToCart validates the requested quantity against current stock and merges
// it into the user's existing line for that product, if any. The stock check
// covers the combined quantity, not just the increment. Stock is only
// validated here, it is consumed at checkout; two concurrent adds can both
// pass the check on the same stale count, which is accepted for this flow.
func (s *Service) AddToCart(ctx context.Context, userID, productID uint, qty int) (*models.CartItem, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ErrValidation)
	}

	var item models.CartItem
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("product %d: %w", productID, ErrNotFound)
			}
			return err
		}
		if product.Count < uint(qty) {
			return fmt.Errorf("stock %d, requested %d: %w", product.Count, qty, ErrInsufficientStock)
		}

		err := tx.Where("user_id = ? AND product_id = ?", userID, productID).First(&item).Error
		switch {
		case err == nil:
			newQty := item.Quantity + uint(qty)
			if product.Count < newQty {
				return fmt.Errorf("stock %d, %d already in cart, requested %d more: %w",
					product.Count, item.Quantity, qty, ErrInsufficientStock)
			}
			item.Quantity = newQty
			return tx.Save(&item).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = models.CartItem{UserID: userID, ProductID: productID, Quantity: uint(qty)}
			return tx.Create(&item).Error
		default:
			return err
		}
	})
	if txErr != nil {
		return nil, txErr
	}

	s.publish(ctx, events.TopicCartEvents, userID, map[string]any{
		"type":       "cart_item_added",
		"user_id":    userID,
		"product_id": productID,
		"quantity":   item.Quantity,
	})
	return &item, nil
}

// ListCart joins lines with the catalog so callers see current name and price.
func (s *Service) ListCart(ctx context.Context, userID uint) ([]Line, error) {
	var lines []Line
	err := s.DB.WithContext(ctx).
		Table("cart_items").
		Select("cart_items.id, cart_items.product_id, products.name, products.price AS unit_price, cart_items.quantity, products.price * cart_items.quantity AS subtotal").
		Joins("JOIN products ON products.id = cart_items.product_id").
		Where("cart_items.user_id = ?", userID).
		Order("cart_items.id ASC").
		Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// RemoveLine deletes one cart row. The delete is scoped to the owning user, a
// line id belonging to someone else reports not found. Safe to repeat.
func (s *Service) RemoveLine(ctx context.Context, userID, lineID uint) error {
	res := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", lineID, userID).
		Delete(&models.CartItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cart line %d: %w", lineID, ErrNotFound)
	}

	s.publish(ctx, events.TopicCartEvents, userID, map[string]any{
		"type":    "cart_item_removed",
		"user_id": userID,
		"line_id": lineID,
	})
	return nil
}

// ComputeTotal sums price times quantity over the lines. Pure.
func ComputeTotal(lines []Line) float64 {
	var total float64
	for _, ln := range lines {
		total += ln.UnitPrice * float64(ln.Quantity)
	}
	return total
}

// Checkout converts the user's cart into an order in one transaction: every
// line gets an atomic conditional stock decrement (never below zero), the
// order and its item snapshots are created, and the cart is bulk-cleared.
// After commit the admin notification and customer mail go out best-effort on
// a bounded background call, their failure never unwinds the order.
func (s *Service) Checkout(ctx context.Context, userID uint) (*Confirmation, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return nil, err
	}

	var (
		order models.Order
		items []models.OrderItem
	)
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lines []models.CartItem
		if err := tx.Where("user_id = ?", userID).Order("id ASC").Find(&lines).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("nothing to check out: %w", ErrEmptyCart)
		}

		var total float64
		items = make([]models.OrderItem, 0, len(lines))
		for _, ln := range lines {
			var p models.Product
			if err := tx.First(&p, ln.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("product %d: %w", ln.ProductID, ErrNotFound)
				}
				return err
			}

			res := tx.Model(&models.Product{}).
				Where("id = ? AND count >= ?", p.ID, ln.Quantity).
				Update("count", gorm.Expr("count - ?", ln.Quantity))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%s: stock %d, in cart %d: %w", p.Name, p.Count, ln.Quantity, ErrInsufficientStock)
			}

			lineTotal := float64(ln.Quantity) * p.Price
			items = append(items, models.OrderItem{
				ProductID: p.ID,
				Name:      p.Name,
				UnitPrice: p.Price,
				Quantity:  ln.Quantity,
				LineTotal: lineTotal,
			})
			total += lineTotal
		}

		order = models.Order{
			UserID:    userID,
			Total:     total,
			Status:    "new",
			CreatedAt: time.Now().Unix(),
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		order.Number = OrderNumber(order.ID)
		if err := tx.Model(&order).Update("number", order.Number).Error; err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}

		return tx.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error
	})
	if txErr != nil {
		return nil, txErr
	}

	s.dispatchNotifications(ctx, notify.OrderNotification{
		Customer: user,
		Items:    items,
		Total:    order.Total,
		Number:   order.Number,
		PlacedAt: time.Unix(order.CreatedAt, 0),
	})

	s.publish(ctx, events.TopicOrderEvents, userID, map[string]any{
		"type":     "order_created",
		"user_id":  userID,
		"order_id": order.ID,
		"number":   order.Number,
		"total":    order.Total,
	})

	return &Confirmation{
		OrderID: order.ID,
		Number:  order.Number,
		Total:   order.Total,
		Items:   items,
	}, nil
}

// OrderNumber renders the human-presentable order identifier. Derived from
// the order row's own id, so it stays unique and monotonic across checkouts.
func OrderNumber(orderID uint) string {
	return fmt.Sprintf("PED%04d", orderID)
}

// dispatchNotifications fires the outbound messages on a detached context so
// a slow provider cannot hold the request open or roll anything back.
func (s *Service) dispatchNotifications(ctx context.Context, o notify.OrderNotification) {
	l := logging.FromContext(ctx).With("order", o.Number)
	notifier := s.Notifier
	mailer := s.Mailer

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if notifier != nil {
			if ok := notifier.NotifyOrder(bg, o); !ok {
				l.Warn("admin was not notified")
			}
		}
		if mailer != nil {
			mailer.SendConfirmation(bg, o)
		}
	}()
}

func (s *Service) publish(ctx context.Context, topic string, userID uint, event map[string]any) {
	if s.Events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Events.PublishEvent(pubCtx, topic, fmt.Sprint(userID), event); err != nil {
		logging.FromContext(ctx).Error("event publish failed", "topic", topic, "error", err)
	}
}
