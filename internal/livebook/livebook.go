// Package livebook keeps the active catalog and the current day's sales in
// memory so the UI sees every committed change without reloading from the
// database.
package livebook

import (
	"slices"
	"strings"
	"sync"
	"time"

	"tokoku/internal/domain"
)

type EventKind string

const (
	EventReloaded       EventKind = "reloaded"
	EventProductPut     EventKind = "product.put"
	EventProductDropped EventKind = "product.dropped"
	EventSaleAdded      EventKind = "sale.added"
	EventSalesRemoved   EventKind = "sales.removed"
	EventSalesCleared   EventKind = "sales.cleared"
)

type Event struct {
	Kind      EventKind       `json:"kind"`
	Product   *domain.Product `json:"product,omitempty"`
	Sale      *domain.Sale    `json:"sale,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
	SaleIDs   []string        `json:"sale_ids,omitempty"`
	At        time.Time       `json:"at"`
}

type Snapshot struct {
	Day      string           `json:"day"`
	Products []domain.Product `json:"products"`
	Sales    []domain.Sale    `json:"sales"`
}

type Book struct {
	mu       sync.Mutex
	loc      *time.Location
	now      func() time.Time
	day      time.Time
	products map[string]domain.Product
	sales    map[string]domain.Sale

	nextSub int
	subs    map[int]chan Event
}

func New(loc *time.Location) *Book {
	if loc == nil {
		loc = time.UTC
	}
	b := &Book{
		loc:      loc,
		now:      time.Now,
		products: make(map[string]domain.Product),
		sales:    make(map[string]domain.Sale),
		subs:     make(map[int]chan Event),
	}
	b.day = b.dayOf(b.now())
	return b
}

func (b *Book) dayOf(t time.Time) time.Time {
	local := t.In(b.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.loc)
}

// Load replaces the whole book. Inactive products and sales outside the
// current day are skipped.
func (b *Book) Load(products []domain.Product, sales []domain.Sale) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.day = b.dayOf(b.now())
	b.products = make(map[string]domain.Product, len(products))
	for _, p := range products {
		if p.Active {
			b.products[p.ID] = p
		}
	}
	b.sales = make(map[string]domain.Sale, len(sales))
	for _, sale := range sales {
		if b.dayOf(sale.SoldAt).Equal(b.day) {
			b.sales[sale.ID] = sale
		}
	}
	b.publish(Event{Kind: EventReloaded})
}

// PutProduct inserts or replaces a product. An inactive product is dropped.
func (b *Book) PutProduct(p domain.Product) {
	if !p.Active {
		b.DropProduct(p.ID)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.products[p.ID] = p
	b.publish(Event{Kind: EventProductPut, Product: &p})
}

func (b *Book) DropProduct(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.products[id]; !exists {
		return
	}
	delete(b.products, id)
	b.publish(Event{Kind: EventProductDropped, ProductID: id})
}

// AddSale records a committed sale and the product row it changed. A sale
// from a later day rolls the previous day's sales off first; a sale from an
// earlier day only updates the product.
func (b *Book) AddSale(sale domain.Sale, product domain.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if product.ID != "" && product.Active {
		b.products[product.ID] = product
	}

	saleDay := b.dayOf(sale.SoldAt)
	if saleDay.After(b.day) {
		b.day = saleDay
		b.sales = make(map[string]domain.Sale)
	}
	if saleDay.Equal(b.day) {
		b.sales[sale.ID] = sale
	}
	b.publish(Event{Kind: EventSaleAdded, Sale: &sale, Product: &product})
}

func (b *Book) RemoveSale(id string) {
	b.RemoveSales([]string{id})
}

func (b *Book) RemoveSales(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, exists := b.sales[id]; exists {
			delete(b.sales, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return
	}
	b.publish(Event{Kind: EventSalesRemoved, SaleIDs: removed})
}

// ClearSales drops every held sale inside [from, to).
func (b *Book) ClearSales(from time.Time, to time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sale := range b.sales {
		if !from.IsZero() && sale.SoldAt.Before(from) {
			continue
		}
		if !to.IsZero() && !sale.SoldAt.Before(to) {
			continue
		}
		delete(b.sales, id)
	}
	b.publish(Event{Kind: EventSalesCleared})
}

// Snapshot returns copies ordered the way the UI lists them: products by
// category then name, sales newest first.
func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	products := make([]domain.Product, 0, len(b.products))
	for _, p := range b.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, c domain.Product) int {
		if a.Category != c.Category {
			return strings.Compare(a.Category, c.Category)
		}
		return strings.Compare(a.Name, c.Name)
	})

	sales := make([]domain.Sale, 0, len(b.sales))
	for _, sale := range b.sales {
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, c domain.Sale) int {
		if a.SoldAt.Equal(c.SoldAt) {
			return strings.Compare(c.ID, a.ID)
		}
		if a.SoldAt.After(c.SoldAt) {
			return -1
		}
		return 1
	})

	return Snapshot{
		Day:      b.day.Format(time.DateOnly),
		Products: products,
		Sales:    sales,
	}
}

// Subscribe returns a channel of future events. A subscriber that falls
// more than buffer events behind misses events instead of blocking writers.
func (b *Book) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish must be called with mu held.
func (b *Book) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = b.now().UTC()
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

