package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

type stockID struct {
	tenantID string
	key      domain.StockKey
}

type productID struct {
	tenantID string
	id       int64
}

// stockRow guards one product's counters; holds on different products never contend
type stockRow struct {
	mu   sync.Mutex
	info domain.StockInfo
}

type outboxRecord struct {
	event     domain.OutboxEvent
	processed bool
}

// MemoryStore implements every store interface with in-memory storage.
// Single operations are atomic. Inside a unit of work each write registers an undo step,
// so a failed unit leaves no partial changes behind. Other callers may observe the
// writes before the unit finishes.
type MemoryStore struct {
	mu           sync.RWMutex
	stocks       map[stockID]*stockRow
	products     map[productID]*domain.Product
	carts        map[string]*domain.Cart
	reservations map[string]*domain.Reservation // reservationID -> reservation
	orders       map[string]*domain.Order       // orderID -> order
	counters     map[string]int64               // tenantID -> last order sequence
	outbox       []*outboxRecord

	logMu sync.Mutex
	log   []domain.InventoryLogEntry

	now func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:       make(map[stockID]*stockRow),
		products:     make(map[productID]*domain.Product),
		carts:        make(map[string]*domain.Cart),
		reservations: make(map[string]*domain.Reservation),
		orders:       make(map[string]*domain.Order),
		counters:     make(map[string]int64),
		now:          time.Now,
	}
}

// WithinTx runs fn with after-commit hooks that fire only when fn succeeds
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	txCtx, hooks := WithTxHooks(ctx)
	if err := fn(txCtx); err != nil {
		hooks.Rollback()
		return err
	}
	hooks.Run()
	return nil
}

// --- stock ---

func (s *MemoryStore) row(tenantID string, key domain.StockKey) (*stockRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.stocks[stockID{tenantID, key}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, key)
	}
	return row, nil
}

// GetStock returns stock information for the given keys
func (s *MemoryStore) GetStock(_ context.Context, tenantID string, keys []domain.StockKey) ([]domain.StockInfo, error) {
	result := make([]domain.StockInfo, 0, len(keys))
	for _, key := range keys {
		row, err := s.row(tenantID, key)
		if err != nil {
			continue
		}
		row.mu.Lock()
		result = append(result, row.info)
		row.mu.Unlock()
	}
	return result, nil
}

func (s *MemoryStore) CreateStock(_ context.Context, info domain.StockInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := stockID{info.TenantID, info.Key}
	if _, exists := s.stocks[id]; exists {
		return ErrStockExists
	}
	if info.Stock < 0 || info.Reserved != 0 {
		return domain.ErrInvalidAdjustment
	}
	info.UpdatedAt = s.now()
	s.stocks[id] = &stockRow{info: info}
	return nil
}

// mutate applies change under the row lock and appends the log entry before unlocking
func (s *MemoryStore) mutate(ctx context.Context, tenantID string, key domain.StockKey, reason domain.InventoryReason, reference string,
	change func(info *domain.StockInfo) error) (domain.InventoryLogEntry, error) {
	row, err := s.row(tenantID, key)
	if err != nil {
		return domain.InventoryLogEntry{}, err
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	before := row.info
	next := row.info
	if err := change(&next); err != nil {
		return domain.InventoryLogEntry{}, err
	}
	next.UpdatedAt = s.now()
	row.info = next

	entry := domain.InventoryLogEntry{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Key:           key,
		Adjustment:    next.Stock - before.Stock,
		ReservedDelta: next.Reserved - before.Reserved,
		Reason:        reason,
		PreviousStock: before.Stock,
		NewStock:      next.Stock,
		Reference:     reference,
		CreatedAt:     next.UpdatedAt,
	}
	s.logMu.Lock()
	s.log = append(s.log, entry)
	s.logMu.Unlock()

	OnRollback(ctx, func() {
		row.mu.Lock()
		row.info.Stock -= entry.Adjustment
		row.info.Reserved -= entry.ReservedDelta
		row.mu.Unlock()
		s.dropLogEntry(entry.ID)
	})
	return entry, nil
}

func (s *MemoryStore) dropLogEntry(id string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	for i, entry := range s.log {
		if entry.ID == id {
			s.log = append(s.log[:i], s.log[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) Hold(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error) {
	return s.mutate(ctx, tenantID, key, domain.ReasonReservationHold, reference, func(info *domain.StockInfo) error {
		if info.Available() < qty {
			return &domain.InsufficientStockError{Items: []domain.StockShortage{
				{Key: key, Requested: qty, Available: info.Available()},
			}}
		}
		info.Reserved += qty
		return nil
	})
}

func (s *MemoryStore) Release(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error) {
	return s.mutate(ctx, tenantID, key, domain.ReasonReservationRelease, reference, func(info *domain.StockInfo) error {
		info.Reserved -= qty
		if info.Reserved < 0 {
			info.Reserved = 0
		}
		return nil
	})
}

func (s *MemoryStore) Commit(ctx context.Context, tenantID string, key domain.StockKey, qty int32, reference string) (domain.InventoryLogEntry, error) {
	return s.mutate(ctx, tenantID, key, domain.ReasonPurchase, reference, func(info *domain.StockInfo) error {
		if info.Reserved < qty {
			return ErrNotHeld
		}
		info.Reserved -= qty
		info.Stock -= qty
		return nil
	})
}

func (s *MemoryStore) Adjust(ctx context.Context, tenantID string, key domain.StockKey, delta int32, reason domain.InventoryReason, reference string) (domain.InventoryLogEntry, error) {
	return s.mutate(ctx, tenantID, key, reason, reference, func(info *domain.StockInfo) error {
		next, err := info.AdjustedStock(delta)
		if err != nil {
			return err
		}
		if next < info.Reserved {
			return &domain.InsufficientStockError{Items: []domain.StockShortage{
				{Key: key, Requested: -delta, Available: info.Available()},
			}}
		}
		info.Stock = next
		return nil
	})
}

func (s *MemoryStore) ListLog(_ context.Context, tenantID string, key domain.StockKey, limit int) ([]domain.InventoryLogEntry, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	var result []domain.InventoryLogEntry
	for _, entry := range s.log {
		if entry.TenantID != tenantID || entry.Key != key {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// --- catalog ---

// SetProduct stores a catalog product (used for initialization)
func (s *MemoryStore) SetProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productID{p.TenantID, p.ID}] = &p
}

func (s *MemoryStore) GetProduct(_ context.Context, tenantID string, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID{tenantID, id}]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrProductNotFound, id)
	}
	product := *p
	return &product, nil
}

// SetCart stores a cart (used for initialization)
func (s *MemoryStore) SetCart(c domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.ID] = &c
}

func (s *MemoryStore) GetCart(_ context.Context, tenantID, cartID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[cartID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	if c.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	cart := *c
	cart.Items = append([]domain.CartItem(nil), c.Items...)
	return &cart, nil
}

// --- reservations ---

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	c := *r
	c.Items = append([]domain.ReservationItem(nil), r.Items...)
	return &c
}

func (s *MemoryStore) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reservations {
		if existing.TenantID == r.TenantID && existing.OrderID == r.OrderID && existing.Status != domain.ReservationCancelled {
			return domain.ErrActiveReservation
		}
	}
	s.reservations[r.ID] = cloneReservation(r)
	OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.reservations, r.ID)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) getReservation(tenantID, id string) (*domain.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	if r.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	return r, nil
}

func (s *MemoryStore) GetReservation(_ context.Context, tenantID, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.getReservation(tenantID, id)
	if err != nil {
		return nil, err
	}
	return cloneReservation(r), nil
}

func (s *MemoryStore) GetActiveReservation(_ context.Context, tenantID, orderID string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.OrderID == orderID && r.Status != domain.ReservationCancelled {
			return cloneReservation(r), nil
		}
	}
	return nil, domain.ErrReservationNotFound
}

func (s *MemoryStore) TransitionReservation(ctx context.Context, tenantID, id string, from, to domain.ReservationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getReservation(tenantID, id)
	if err != nil {
		return err
	}
	if r.Status != from {
		return domain.ErrInvalidStatus
	}
	prev := cloneReservation(r)
	OnRollback(ctx, func() {
		s.mu.Lock()
		s.reservations[id] = prev
		s.mu.Unlock()
	})
	r.Status = to
	switch to {
	case domain.ReservationConfirmed:
		r.ConfirmedAt = &at
	case domain.ReservationCancelled:
		r.CancelledAt = &at
	}
	return nil
}

func (s *MemoryStore) ListExpiredReservations(_ context.Context, before time.Time, limit int) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationReserved && r.ExpiresAt.Before(before) {
			result = append(result, cloneReservation(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- orders ---

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orders {
		if existing.TenantID == order.TenantID && existing.UserID == order.UserID &&
			existing.CartID == order.CartID && existing.Status.IsInFlight() {
			return domain.ErrDuplicateInFlight
		}
	}

	s.counters[order.TenantID]++
	order.OrderNumber = FormatOrderNumber(order.CreatedAt, s.counters[order.TenantID])
	s.orders[order.ID] = cloneOrder(order)
	OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.orders, order.ID)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) getOrder(tenantID, id string) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	return o, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, tenantID, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, err := s.getOrder(tenantID, id)
	if err != nil {
		return nil, err
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetOrderByPaymentID(_ context.Context, tenantID, paymentID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.TenantID == tenantID && o.PaymentID != "" && o.PaymentID == paymentID {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *MemoryStore) FindInFlightOrder(_ context.Context, tenantID, userID, cartID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.TenantID == tenantID && o.UserID == userID && o.CartID == cartID && o.Status.IsInFlight() {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *MemoryStore) ListOrders(_ context.Context, tenantID, userID string, limit, offset int) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Order
	for _, o := range s.orders {
		if o.TenantID == tenantID && o.UserID == userID {
			all = append(all, cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []*domain.Order{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) ListStaleOrders(_ context.Context, statuses []domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[domain.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var result []*domain.Order
	for _, o := range s.orders {
		if wanted[o.Status] && o.UpdatedAt.Before(before) {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.getOrder(order.TenantID, order.ID)
	if err != nil {
		return err
	}
	if stored.Status != expected {
		return fmt.Errorf("%w: order is %s, expected %s", domain.ErrIllegalTransition, stored.Status, expected)
	}
	prev := cloneOrder(stored)
	OnRollback(ctx, func() {
		s.mu.Lock()
		s.orders[prev.ID] = prev
		s.mu.Unlock()
	})
	stored.Status = order.Status
	stored.PaymentID = order.PaymentID
	stored.PaymentSecret = order.PaymentSecret
	stored.ReservationID = order.ReservationID
	stored.PaymentMethod = order.PaymentMethod
	stored.UpdatedAt = order.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.getOrder(tenantID, id)
	if err != nil {
		return err
	}
	if !o.Status.IsInFlight() {
		return fmt.Errorf("%w: order is %s, only in-flight orders are deleted", domain.ErrIllegalTransition, o.Status)
	}
	delete(s.orders, id)
	OnRollback(ctx, func() {
		s.mu.Lock()
		s.orders[id] = o
		s.mu.Unlock()
	})
	return nil
}

// --- outbox ---

func (s *MemoryStore) AddOutboxEvent(ctx context.Context, event domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &outboxRecord{event: event}
	s.outbox = append(s.outbox, rec)
	OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, r := range s.outbox {
			if r == rec {
				s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.OutboxEvent
	for _, rec := range s.outbox {
		if rec.processed {
			continue
		}
		result = append(result, rec.event)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.outbox {
		if rec.event.ID == id {
			rec.processed = true
			return nil
		}
	}
	return ErrEventNotFound
}

// FormatOrderNumber renders the human readable order number, unique per tenant
func FormatOrderNumber(createdAt time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", createdAt.UTC().Format("20060102"), seq)
}
