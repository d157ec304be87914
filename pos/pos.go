// Package pos holds the restaurant point-of-sale operations built on the
// document store: order numbering, system settings, offer expiry, image
// reference cleanup and bulk import.
package pos

import (
	"log/slog"
	"time"

	"github.com/stevemurr/pos-server/store"
)

// Collection names.
const (
	ActiveOrders       = "active_orders"
	ComboOffers        = "combo_offers"
	CompanyDetails     = "company_details"
	CustomerGroups     = "customer_groups"
	Customers          = "customers"
	EmailSettings      = "email_settings"
	EmailTokens        = "email_tokens"
	Employees          = "employees"
	ItemGroups         = "item_groups"
	Items              = "items"
	KitchenSavedOrders = "kitchen_saved_orders"
	Kitchens           = "kitchens"
	OrderCounters      = "order_counters"
	PickedUpItems      = "picked_up_items"
	PosClosingEntries  = "pos_closing_entries"
	PosOpeningEntries  = "pos_opening_entries"
	PrintSettings      = "print_settings"
	PurchaseInvoices   = "purchase_invoices"
	PurchaseItems      = "purchase_items"
	PurchaseOrders     = "purchase_orders"
	PurchaseReceipts   = "purchase_receipts"
	PurchaseSales      = "purchase_sales"
	Sales              = "sales"
	Suppliers          = "suppliers"
	SystemSettings     = "system_settings"
	Tables             = "tables"
	TripReports        = "trip_reports"
	Uoms               = "uoms"
	Users              = "users"
	Variants           = "variants"
	Vat                = "vat"
)

// Collections is every collection created when the server starts.
var Collections = []string{
	ActiveOrders, ComboOffers, CompanyDetails, CustomerGroups, Customers,
	EmailSettings, EmailTokens, Employees, ItemGroups, Items,
	KitchenSavedOrders, Kitchens, OrderCounters, PickedUpItems,
	PosClosingEntries, PosOpeningEntries, PrintSettings, PurchaseInvoices,
	PurchaseItems, PurchaseOrders, PurchaseReceipts, PurchaseSales, Sales,
	Suppliers, SystemSettings, Tables, TripReports, Uoms, Users, Variants, Vat,
}

// Service runs POS operations against a Store, local or remote.
type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service over s.
func NewService(s store.Store, opts ...Option) *Service {
	svc := &Service{store: s, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Store returns the underlying store.
func (s *Service) Store() store.Store { return s.store }
