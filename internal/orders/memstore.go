package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps products and orders in process. It backs the API when
// no Postgres DSN is configured and serves as the store in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]Product
	orders   map[string]*Order
	byNumber map[string]string
	audit    []AuditEntry
	now      func() time.Time
}

func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{
		products: map[string]Product{},
		orders:   map[string]*Order{},
		byNumber: map[string]string{},
		now:      time.Now,
	}
	for _, p := range products {
		s.PutProduct(p)
	}
	return s
}

// PutProduct upserts a product, deriving IsInStock from StockQuantity.
func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.IsInStock = p.StockQuantity > 0
	s.products[p.ID] = p
}

func (s *MemoryStore) Product(id string) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *MemoryStore) Audit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *MemoryStore) Products(_ context.Context, ids []string) (map[string]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byNumber[o.OrderNumber]; dup {
		return fmt.Errorf("order number %s already exists", o.OrderNumber)
	}

	// check all lines before mutating anything
	need := map[string]int{}
	for _, it := range o.Items {
		need[it.ProductID] += it.Quantity
	}
	for id, q := range need {
		p, ok := s.products[id]
		if !ok || !p.IsActive || p.StockQuantity < q {
			e := &UnavailableError{ProductID: id, Reason: ReasonInsufficientStock, Requested: q}
			if ok {
				e.Name, e.Available = p.Name, p.StockQuantity
				if !p.IsActive {
					e.Reason = ReasonInactive
				}
			} else {
				e.Reason = ReasonNotFound
			}
			return e
		}
	}
	for id, q := range need {
		p := s.products[id]
		p.StockQuantity -= q
		p.IsInStock = p.StockQuantity > 0
		s.products[id] = p
	}

	now := s.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	cp := cloneOrder(o)
	s.orders[o.ID] = cp
	s.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (s *MemoryStore) ByNumber(_ context.Context, number string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *MemoryStore) ByID(_ context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListByBuyer(_ context.Context, q ListQuery) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []Order
	for _, o := range s.orders {
		if o.BuyerID != q.BuyerID {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		all = append(all, *cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].OrderNumber > all[j].OrderNumber
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	start := (q.Page - 1) * q.PageSize
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return newPage(all[start:end], q, total), nil
}

func (s *MemoryStore) AttachSession(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.GatewaySessionID = sessionID
	o.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to State, opts TransitionOpts) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.State() != from {
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", ErrStateConflict, o.OrderNumber, o.State(), from)
	}
	o.Status, o.PaymentStatus = to.Status, to.PaymentStatus
	if opts.PaymentIntentID != "" {
		o.PaymentIntentID = opts.PaymentIntentID
	}
	if opts.ReleaseStock {
		for _, it := range o.Items {
			if p, ok := s.products[it.ProductID]; ok {
				p.StockQuantity += it.Quantity
				p.IsInStock = p.StockQuantity > 0
				s.products[it.ProductID] = p
			}
		}
	}
	o.UpdatedAt = s.now().UTC()
	return cloneOrder(o), nil
}

func (s *MemoryStore) Override(_ context.Context, number string, ov Override) (*Order, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, State{}, ErrNotFound
	}
	o := s.orders[id]
	prev := o.State()
	applyOverride(o, ov)
	o.UpdatedAt = s.now().UTC()
	s.audit = append(s.audit, AuditEntry{
		OrderID: o.ID, Actor: ov.Actor, Previous: prev, Current: o.State(), Notes: ov.Notes, At: o.UpdatedAt,
	})
	return cloneOrder(o), prev, nil
}

func (s *MemoryStore) PendingBefore(_ context.Context, cutoff time.Time, limit int) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if o.State() == StateNew && o.CreatedAt.Before(cutoff) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Backdate shifts an order's creation time; used to exercise expiry.
func (s *MemoryStore) Backdate(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.CreatedAt = o.CreatedAt.Add(-d)
	}
}

func applyOverride(o *Order, ov Override) {
	if ov.Status != "" {
		o.Status = ov.Status
	}
	if ov.PaymentStatus != "" {
		o.PaymentStatus = ov.PaymentStatus
	}
	if ov.Notes != nil {
		o.Notes = *ov.Notes
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	return &cp
}
