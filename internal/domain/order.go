package domain

import "time"

// OrderStatus enumerates fulfilment states of a marketplace order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is a purchase placed by a buyer with a seller. Orders are owned by
// the checkout system; this service only reads them.
type Order struct {
	ID              string
	UserID          string
	SellerID        string
	PaymentIntentID string
	Status          OrderStatus
	Currency        string
	TotalAmount     int64
	Items           []OrderItem
	ShippingAddress Address
	CreatedAt       time.Time
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// Address is a postal shipping address.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// Product is a catalogue item listed by a seller.
type Product struct {
	ID        string
	SellerID  string
	Name      string
	Price     int64
	Currency  string
	CreatedAt time.Time
}

// InvolvesUser reports whether userID is the buyer or the seller of the order.
func (o *Order) InvolvesUser(userID string) bool {
	return o.UserID == userID || o.SellerID == userID
}
