package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the ledger row the payment reconciler locks and mutates.
// Paid only ever moves from false to true.
type Order struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	FirstName        string      `gorm:"column:first_name" json:"first_name"`
	LastName         string      `gorm:"column:last_name" json:"last_name"`
	Email            string      `gorm:"column:email;not null" json:"email"`
	Paid             bool        `gorm:"column:paid;not null;default:false;index" json:"paid"`
	PaymentReference string      `gorm:"column:payment_reference;index" json:"payment_reference,omitempty"`
	Lines            []OrderLine `gorm:"foreignKey:OrderID" json:"lines,omitempty"`
	CreatedAt        time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// ProductIDs returns the distinct product ids of the order, in line order.
func (o *Order) ProductIDs() []uint {
	if o == nil {
		return nil
	}
	seen := make(map[uint]struct{}, len(o.Lines))
	out := make([]uint, 0, len(o.Lines))
	for _, l := range o.Lines {
		if l.ProductID == 0 {
			continue
		}
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		out = append(out, l.ProductID)
	}
	return out
}

func (o *Order) TotalCost() decimal.Decimal {
	total := decimal.Zero
	if o == nil {
		return total
	}
	for _, l := range o.Lines {
		total = total.Add(l.Cost())
	}
	return total
}

type OrderLine struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"column:order_id;not null;index" json:"order_id"`
	ProductID uint            `gorm:"column:product_id;not null;index" json:"product_id"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:decimal(10,2);not null" json:"unit_price"`
	Quantity  int             `gorm:"column:quantity;not null;default:1" json:"quantity"`
}

func (OrderLine) TableName() string { return "order_lines" }

func (l OrderLine) Cost() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Product only carries what the recommender needs: the id space.
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Product) TableName() string { return "products" }
