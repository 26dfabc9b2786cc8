// Package cart holds the per-session shopping cart.
//
// Cart mutations are expressed as commands applied by Reduce, a pure
// (State, Command) -> State transition. Store wraps the current state for one
// session and serialises mutations so readers never observe line items and
// totals out of step.
package cart

import (
	"sync"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// State is a snapshot of a cart
type State struct {
	Items      []models.CartLineItem `json:"items"`
	TotalItems int                   `json:"totalItems"`
	TotalPrice decimal.Decimal       `json:"totalPrice"`
}

// IsEmpty reports whether the cart has no line items
func (s State) IsEmpty() bool {
	return len(s.Items) == 0
}

// Find returns the line for a product id
func (s State) Find(id int64) (models.CartLineItem, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return models.CartLineItem{}, false
}

// Item is the product snapshot taken when a line is created
type Item struct {
	ID    int64
	Title string
	Price decimal.Decimal
	Image string
}

// ItemFromProduct snapshots the fields a cart line keeps
func ItemFromProduct(p *models.Product) Item {
	return Item{
		ID:    p.ID,
		Title: p.Title,
		Price: p.Price,
		Image: p.Image,
	}
}

// Command is a cart mutation
type Command interface {
	apply(items []models.CartLineItem) []models.CartLineItem
}

// AddItem increases the quantity of an existing line or appends a new one.
// Non-positive quantities are ignored.
type AddItem struct {
	Item     Item
	Quantity int
}

func (c AddItem) apply(items []models.CartLineItem) []models.CartLineItem {
	if c.Quantity <= 0 {
		return items
	}
	for i := range items {
		if items[i].ID == c.Item.ID {
			items[i].Quantity += c.Quantity
			return items
		}
	}
	return append(items, models.CartLineItem{
		ID:       c.Item.ID,
		Title:    c.Item.Title,
		Price:    c.Item.Price,
		Image:    c.Item.Image,
		Quantity: c.Quantity,
	})
}

// UpdateQuantity sets a line's quantity, removing the line when quantity <= 0
type UpdateQuantity struct {
	ID       int64
	Quantity int
}

func (c UpdateQuantity) apply(items []models.CartLineItem) []models.CartLineItem {
	if c.Quantity <= 0 {
		return RemoveItem{ID: c.ID}.apply(items)
	}
	for i := range items {
		if items[i].ID == c.ID {
			items[i].Quantity = c.Quantity
			break
		}
	}
	return items
}

// RemoveItem deletes a line if present
type RemoveItem struct {
	ID int64
}

func (c RemoveItem) apply(items []models.CartLineItem) []models.CartLineItem {
	out := items[:0]
	for _, item := range items {
		if item.ID != c.ID {
			out = append(out, item)
		}
	}
	return out
}

// Clear empties the cart
type Clear struct{}

func (Clear) apply([]models.CartLineItem) []models.CartLineItem {
	return nil
}

// RemoveOrdered takes the lines of a submitted order out of the cart. Each
// ordered quantity is subtracted from the matching line and lines that drop to
// zero are removed. Lines added or raised after the order was taken survive.
type RemoveOrdered struct {
	Items []models.CartLineItem
}

func (c RemoveOrdered) apply(items []models.CartLineItem) []models.CartLineItem {
	ordered := make(map[int64]int, len(c.Items))
	for _, item := range c.Items {
		ordered[item.ID] += item.Quantity
	}

	out := items[:0]
	for _, item := range items {
		item.Quantity -= ordered[item.ID]
		if item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}

// Reduce applies cmd to state and returns the resulting state with its
// totals recomputed. The input state is left untouched.
func Reduce(state State, cmd Command) State {
	items := make([]models.CartLineItem, len(state.Items))
	copy(items, state.Items)

	return newState(cmd.apply(items))
}

func newState(items []models.CartLineItem) State {
	s := State{
		Items:      items,
		TotalPrice: decimal.Zero,
	}
	if s.Items == nil {
		s.Items = []models.CartLineItem{}
	}
	for _, item := range s.Items {
		s.TotalItems += item.Quantity
		s.TotalPrice = s.TotalPrice.Add(item.LineTotal())
	}
	return s
}

// Store holds the cart state of one session
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore creates an empty cart
func NewStore() *Store {
	return &Store{state: newState(nil)}
}

// Dispatch applies a command and returns the resulting state
func (s *Store) Dispatch(cmd Command) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, cmd)
	return s.state.clone()
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.clone()
}

// AddItem adds quantity of item to the cart
func (s *Store) AddItem(item Item, quantity int) State {
	return s.Dispatch(AddItem{Item: item, Quantity: quantity})
}

// UpdateQuantity sets the quantity of a line
func (s *Store) UpdateQuantity(id int64, quantity int) State {
	return s.Dispatch(UpdateQuantity{ID: id, Quantity: quantity})
}

// RemoveItem removes a line
func (s *Store) RemoveItem(id int64) State {
	return s.Dispatch(RemoveItem{ID: id})
}

// ClearCart empties the cart
func (s *Store) ClearCart() State {
	return s.Dispatch(Clear{})
}

// RemoveOrdered takes the lines of a submitted order out of the cart
func (s *Store) RemoveOrdered(items []models.CartLineItem) State {
	return s.Dispatch(RemoveOrdered{Items: items})
}

func (s State) clone() State {
	items := make([]models.CartLineItem, len(s.Items))
	copy(items, s.Items)
	s.Items = items
	return s
}
