package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/numbering"
)

type memLedger struct {
	mu       sync.Mutex
	units    map[domain.StockKey]*domain.StockUnit
	inactive map[string]bool
	// reserveHook runs before each reservation and may fail it.
	reserveHook func(key domain.StockKey) error
	releases    int
}

func newMemLedger(units ...domain.StockUnit) *memLedger {
	l := &memLedger{units: map[domain.StockKey]*domain.StockUnit{}, inactive: map[string]bool{}}
	for _, u := range units {
		u := u
		l.units[u.Key()] = &u
	}
	return l
}

func (l *memLedger) Lookup(_ context.Context, key domain.StockKey) (*domain.StockUnit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	unit, ok := l.units[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if l.inactive[key.ProductID] {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, key.ProductID)
	}
	cp := *unit
	return &cp, nil
}

func (l *memLedger) Reserve(_ context.Context, key domain.StockKey, quantity int) (domain.Reservation, error) {
	if l.reserveHook != nil {
		if err := l.reserveHook(key); err != nil {
			return domain.Reservation{}, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	unit, ok := l.units[key]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if unit.Stock < quantity {
		return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, key)
	}
	unit.Stock -= quantity
	return domain.Reservation{Key: key, Quantity: quantity, Remaining: unit.Stock}, nil
}

func (l *memLedger) Release(_ context.Context, key domain.StockKey, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	unit, ok := l.units[key]
	if !ok {
		return domain.ErrNotFound
	}
	unit.Stock += quantity
	l.releases++
	return nil
}

func (l *memLedger) stock(key domain.StockKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.units[key].Stock
}

type memSequence struct {
	n   atomic.Int64
	err error
}

func (s *memSequence) Next(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return numbering.Format(numbering.DefaultPrefix, numbering.DefaultWidth, s.n.Add(1)), nil
}

// memStore keeps JSON copies so callers never share memory with the store.
type memStore struct {
	mu        sync.Mutex
	orders    map[string][]byte
	createErr error
}

func newMemStore() *memStore {
	return &memStore{orders: map[string][]byte{}}
}

func (s *memStore) Create(_ context.Context, order *domain.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = raw
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	raw, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *memStore) Update(_ context.Context, order *domain.Order, expected domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	var current domain.Order
	if err := json.Unmarshal(raw, &current); err != nil {
		return err
	}
	if current.Status != expected {
		return domain.ErrConcurrentUpdate
	}
	next, err := json.Marshal(order)
	if err != nil {
		return err
	}
	s.orders[order.ID] = next
	return nil
}

func (s *memStore) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	s.mu.Lock()
	var all []domain.Order
	for _, raw := range s.orders {
		var o domain.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			s.mu.Unlock()
			return nil, 0, err
		}
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		all = append(all, o)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].OrderNumber < all[j].OrderNumber })

	start := min(filter.Offset(), len(all))
	end := min(start+filter.Limit, len(all))
	return all[start:end], len(all), nil
}

func (s *memStore) put(order *domain.Order) {
	if err := s.Create(context.Background(), order); err != nil {
		panic(err)
	}
}

type published struct {
	topic string
	key   string
	event any
}

type memPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *memPublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, key: key, event: event})
	return nil
}

func (p *memPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
