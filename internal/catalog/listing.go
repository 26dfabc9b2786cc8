package catalog

import (
	"context"
	"errors"
	"sync"

	"storefront/internal/models"
	"storefront/internal/util"
)

// ErrSuperseded is returned by Listing.Load when a newer load was issued
// before this one completed. Its result was discarded.
var ErrSuperseded = errors.New("listing request superseded by a newer request")

// ProductLister is the part of the catalog a Listing reads from
type ProductLister interface {
	ListProducts(ctx context.Context, category string) ([]models.Product, error)
}

// View is the listing currently on display
type View struct {
	Seq      uint64           `json:"seq"`
	Category string           `json:"category"`
	Products []models.Product `json:"products"`
	Err      error            `json:"-"`
	Loaded   bool             `json:"loaded"`
}

// Listing holds the product listing shown to one session. Only the most
// recently issued Load may change what is displayed: issuing a Load cancels
// the one in flight, and a response that arrives after a newer Load was
// issued is dropped.
type Listing struct {
	source ProductLister

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	current View
}

// NewListing creates an empty listing reading from source
func NewListing(source ProductLister) *Listing {
	return &Listing{source: source}
}

// Load fetches the listing for category (all products when empty) and
// displays it if no newer Load has been issued meanwhile.
func (l *Listing) Load(ctx context.Context, category string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Listing.Load")
	defer span.End()

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	seq := l.seq
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	products, err := l.source.ListProducts(ctx, category)

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq != l.seq {
		cancel()
		util.ListingsSupersededTotal.Inc()
		return nil, ErrSuperseded
	}
	cancel()
	l.cancel = nil

	l.current = View{
		Seq:      seq,
		Category: category,
		Products: products,
		Err:      err,
		Loaded:   true,
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	return products, nil
}

// Current returns the listing on display
func (l *Listing) Current() View {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.current
	v.Products = append([]models.Product(nil), l.current.Products...)
	return v
}
