package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
)

// File is the fixture document loaded at startup.
type File struct {
	Agents   []Agent   `yaml:"agents"`
	Products []Product `yaml:"products"`
	Orders   []Order   `yaml:"orders"`
}

// Agent is a support staff fixture.
type Agent struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Active *bool  `yaml:"active,omitempty"`
}

// Product is a catalogue fixture.
type Product struct {
	ID       string `yaml:"id"`
	SellerID string `yaml:"seller_id"`
	Name     string `yaml:"name"`
	Price    int64  `yaml:"price"`
	Currency string `yaml:"currency"`
}

// Order is an order fixture. Amounts are in minor units.
type Order struct {
	ID              string      `yaml:"id"`
	UserID          string      `yaml:"user_id"`
	SellerID        string      `yaml:"seller_id"`
	PaymentIntentID string      `yaml:"payment_intent_id"`
	Status          string      `yaml:"status"`
	Currency        string      `yaml:"currency"`
	TotalAmount     int64       `yaml:"total_amount"`
	Items           []OrderItem `yaml:"items"`
	ShippingAddress Address     `yaml:"shipping_address"`
	CreatedAt       time.Time   `yaml:"created_at"`
}

// OrderItem is one order line.
type OrderItem struct {
	ProductID string `yaml:"product_id"`
	Name      string `yaml:"name"`
	Quantity  int    `yaml:"quantity"`
	UnitPrice int64  `yaml:"unit_price"`
}

// Address is a postal address.
type Address struct {
	Name       string `yaml:"name"`
	Line1      string `yaml:"line1"`
	Line2      string `yaml:"line2"`
	City       string `yaml:"city"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
}

// Targets are the repositories fixtures are written to.
type Targets struct {
	Agents   repository.AgentRepository
	Products repository.ProductRepository
	Orders   repository.OrderRepository
}

// LoadFile reads and validates a fixture file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates fixture YAML.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := file.validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *File) validate() error {
	for i, a := range f.Agents {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("agents[%d]: id and name are required", i)
		}
	}
	for i, p := range f.Products {
		if p.ID == "" || p.SellerID == "" {
			return fmt.Errorf("products[%d]: id and seller_id are required", i)
		}
	}
	intents := make(map[string]string, len(f.Orders))
	for i, o := range f.Orders {
		if o.ID == "" || o.UserID == "" || o.PaymentIntentID == "" {
			return fmt.Errorf("orders[%d]: id, user_id and payment_intent_id are required", i)
		}
		if o.TotalAmount <= 0 {
			return fmt.Errorf("orders[%d]: total_amount must be positive", i)
		}
		if prev, ok := intents[o.PaymentIntentID]; ok {
			return fmt.Errorf("orders[%d]: payment_intent_id %q already used by order %s", i, o.PaymentIntentID, prev)
		}
		intents[o.PaymentIntentID] = o.ID
	}
	return nil
}

// Apply writes the fixtures. Existing records with the same id are left as they are.
func Apply(ctx context.Context, targets Targets, file *File, now time.Time, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, a := range file.Agents {
		active := true
		if a.Active != nil {
			active = *a.Active
		}
		agent := &domain.Agent{ID: a.ID, Name: a.Name, Email: a.Email, Active: active, CreatedAt: now}
		if err := targets.Agents.Create(ctx, agent); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.ID, err)
		}
	}
	for _, p := range file.Products {
		product := &domain.Product{
			ID:        p.ID,
			SellerID:  p.SellerID,
			Name:      p.Name,
			Price:     p.Price,
			Currency:  strings.ToLower(defaultString(p.Currency, "usd")),
			CreatedAt: now,
		}
		if err := targets.Products.Create(ctx, product); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, o := range file.Orders {
		if err := targets.Orders.Create(ctx, o.toDomain(now)); err != nil {
			return fmt.Errorf("seed order %s: %w", o.ID, err)
		}
	}
	logger.Info("seed data applied",
		zap.Int("agents", len(file.Agents)),
		zap.Int("products", len(file.Products)),
		zap.Int("orders", len(file.Orders)))
	return nil
}

func (o Order) toDomain(now time.Time) *domain.Order {
	order := &domain.Order{
		ID:              o.ID,
		UserID:          o.UserID,
		SellerID:        o.SellerID,
		PaymentIntentID: o.PaymentIntentID,
		Status:          domain.OrderStatus(strings.ToUpper(defaultString(o.Status, string(domain.OrderStatusPaid)))),
		Currency:        strings.ToLower(defaultString(o.Currency, "usd")),
		TotalAmount:     o.TotalAmount,
		ShippingAddress: domain.Address(o.ShippingAddress),
		CreatedAt:       o.CreatedAt,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	for _, item := range o.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	return order
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
