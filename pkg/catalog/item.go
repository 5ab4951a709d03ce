// Package catalog is the REST store behind the menu, the drinks list and the per-channel account
// collections, plus the HTTP client stations use to reach it.
package catalog

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/order"
)

type Collection string

const (
	Dishes          Collection = "dishes"
	Alcohol         Collection = "alcohol"
	KitchenAccounts Collection = "cuentas_restaurante"
	BarAccounts     Collection = "cuentas_bar"
)

var Collections = []Collection{Dishes, Alcohol, KitchenAccounts, BarAccounts}

func ParseCollection(s string) (Collection, bool) {
	for _, c := range Collections {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

func (c Collection) IsAccounts() bool {
	return c == KitchenAccounts || c == BarAccounts
}

// AccountsFor is the account collection of a channel.
func AccountsFor(source order.Source) Collection {
	if source == order.SourceBar {
		return BarAccounts
	}
	return KitchenAccounts
}

// MenuFor is the catalog a channel's waiters order from.
func MenuFor(source order.Source) Collection {
	if source == order.SourceBar {
		return Alcohol
	}
	return Dishes
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Item is a dish or a drink.
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Ingredients []string `json:"ingredients"`
	Category    string   `json:"category"`
}

func defaultCategory(c Collection) string {
	if c == Alcohol {
		return "Tragos"
	}
	return "Otros"
}

// Normalize trims the item, fills the default category and rejects an empty name or a negative
// price.
func Normalize(c Collection, it Item) (Item, error) {
	it.Name = strings.TrimSpace(it.Name)
	it.Category = strings.TrimSpace(it.Category)
	if it.Name == "" {
		return it, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if it.Price < 0 {
		return it, &ValidationError{Field: "price", Message: "must not be negative"}
	}
	if it.Category == "" {
		it.Category = defaultCategory(c)
	}
	ingredients := make([]string, 0, len(it.Ingredients))
	for _, s := range it.Ingredients {
		if s = strings.TrimSpace(s); s != "" {
			ingredients = append(ingredients, s)
		}
	}
	it.Ingredients = ingredients
	return it, nil
}

// Dish turns a menu entry into an order line.
func (it Item) Dish(excluded []string) order.Item {
	return order.Item{
		Name:                it.Name,
		Price:               it.Price,
		Category:            it.Category,
		ExcludedIngredients: excluded,
	}
}

// Drink turns a drinks entry into an order line. Mixed drinks are priced by pour size, bottles by
// quantity.
func (it Item) Drink(size string, quantity int) order.Item {
	if size == "" {
		size = "simple"
	}
	if quantity <= 0 {
		quantity = 1
	}
	price := it.Price
	switch strings.ToLower(it.Category) {
	case "tragos":
		switch size {
		case "doble":
			price = it.Price * 2
		case "triple":
			price = it.Price * 3
		}
	case "botellas":
		price = it.Price * float64(quantity)
	}
	return order.Item{
		Name:      it.Name,
		Price:     price,
		BasePrice: it.Price,
		Size:      size,
		Quantity:  quantity,
		Category:  it.Category,
	}
}
