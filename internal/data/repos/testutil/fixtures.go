package testutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	types "github.com/yungbote/myshop-backend/internal/domain"
)

// LineSpec describes one order line for SeedOrder.
type LineSpec struct {
	ProductID uint
	Price     string
	Quantity  int
}

func SeedProducts(tb testing.TB, db *gorm.DB, ids ...uint) {
	tb.Helper()
	for _, id := range ids {
		p := &types.Product{ID: id, Name: "product"}
		if err := db.Create(p).Error; err != nil {
			tb.Fatalf("seed product %d: %v", id, err)
		}
	}
}

func SeedOrder(tb testing.TB, db *gorm.DB, id uint, email string, lines ...LineSpec) *types.Order {
	tb.Helper()
	o := &types.Order{
		ID:        id,
		FirstName: "A",
		LastName:  "B",
		Email:     email,
	}
	for _, l := range lines {
		price := l.Price
		if price == "" {
			price = "1.00"
		}
		qty := l.Quantity
		if qty <= 0 {
			qty = 1
		}
		o.Lines = append(o.Lines, types.OrderLine{
			ProductID: l.ProductID,
			UnitPrice: decimal.RequireFromString(price),
			Quantity:  qty,
		})
	}
	if err := db.Create(o).Error; err != nil {
		tb.Fatalf("seed order %d: %v", id, err)
	}
	return o
}

func ReloadOrder(tb testing.TB, db *gorm.DB, id uint) *types.Order {
	tb.Helper()
	var o types.Order
	if err := db.Preload("Lines").First(&o, id).Error; err != nil {
		tb.Fatalf("reload order %d: %v", id, err)
	}
	return &o
}
