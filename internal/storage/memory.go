package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tourbase/tourbase/internal/domain"
)

// Memory — in-process реализация Store (тесты, single-node dev).
type Memory struct {
	mu              sync.RWMutex
	vendors         map[string]*domain.Vendor
	services        map[string]*domain.TourService
	bookings        map[string]*domain.Booking
	refunds         map[string]*domain.Refund
	sessions        map[string]*domain.CheckoutSession
	campaigns       map[string]*domain.Campaign
	calendarSources map[string]*domain.CalendarSource
	notifications   map[string]*domain.Notification
}

func NewMemory() *Memory {
	return &Memory{
		vendors:         make(map[string]*domain.Vendor),
		services:        make(map[string]*domain.TourService),
		bookings:        make(map[string]*domain.Booking),
		refunds:         make(map[string]*domain.Refund),
		sessions:        make(map[string]*domain.CheckoutSession),
		campaigns:       make(map[string]*domain.Campaign),
		calendarSources: make(map[string]*domain.CalendarSource),
		notifications:   make(map[string]*domain.Notification),
	}
}

func (m *Memory) CreateVendor(_ context.Context, v *domain.Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vendors[v.ID] = &cp
	return nil
}

func (m *Memory) GetVendor(_ context.Context, id string) (*domain.Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vendors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *Memory) SetVendorStatus(_ context.Context, id string, status domain.VendorStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	v.UpdatedAt = time.Now()
	return nil
}

// SeedService — фикстура для тестов и dev-окружения.
func (m *Memory) SeedService(s *domain.TourService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.services[s.ID] = &cp
}

func (m *Memory) GetService(_ context.Context, id string) (*domain.TourService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpdateServicePrice(_ context.Context, serviceID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[serviceID]
	if !ok {
		return ErrNotFound
	}
	s.Price = price
	return nil
}

func (m *Memory) CreateBooking(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) UpdateBooking(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	cp := *b
	cp.UpdatedAt = time.Now()
	m.bookings[b.ID] = &cp
	return nil
}

func (m *Memory) HasConfirmedOverlap(_ context.Context, serviceID string, start, end time.Time, excludeBookingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.ServiceID != serviceID || b.Status != domain.BookingConfirmed {
			continue
		}
		if excludeBookingID != "" && b.ID == excludeBookingID {
			continue
		}
		// Полуинтервалы [start, end) пересекаются, если start < b.End и end > b.Start
		if start.Before(b.EndDate) && end.After(b.StartDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateRefund(_ context.Context, r *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *Memory) CreateCheckoutSession(_ context.Context, s *domain.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *Memory) CreateCalendarSource(_ context.Context, cs *domain.CalendarSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cs
	m.calendarSources[cs.ID] = &cp
	return nil
}

func (m *Memory) CreateNotification(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

// Refunds — доступ к созданным возвратам (проверки в тестах).
func (m *Memory) Refunds() []*domain.Refund {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Refund, 0, len(m.refunds))
	for _, r := range m.refunds {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// Bookings — все брони (проверки в тестах).
func (m *Memory) Bookings() []*domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		cp := *b
		out = append(out, &cp)
	}
	return out
}
