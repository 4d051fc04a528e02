package events

import (
	"sort"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

// Category groups related event types.
type Category string

const (
	CategoryLifecycle   Category = "lifecycle"
	CategoryHardware    Category = "hardware"
	CategoryProduct     Category = "product"
	CategoryTransaction Category = "transaction"
	CategoryPayment     Category = "payment"
	CategoryUser        Category = "user"
	CategorySync        Category = "sync"
	CategoryBusiness    Category = "business"
	CategorySecurity    Category = "security"
	CategorySystem      Category = "system"
)

// Application lifecycle.
const (
	AppStarted    event.Type = "APP_STARTED"
	AppStopped    event.Type = "APP_STOPPED"
	AppForeground event.Type = "APP_FOREGROUND"
	AppBackground event.Type = "APP_BACKGROUND"
	AppUpdated    event.Type = "APP_UPDATED"
)

// Point-of-sale hardware.
const (
	PrinterConnected    event.Type = "PRINTER_CONNECTED"
	PrinterDisconnected event.Type = "PRINTER_DISCONNECTED"
	PrinterError        event.Type = "PRINTER_ERROR"
	ReceiptPrinted      event.Type = "RECEIPT_PRINTED"
	CashDrawerOpened    event.Type = "CASH_DRAWER_OPENED"
	CashDrawerClosed    event.Type = "CASH_DRAWER_CLOSED"
	ScannerRead         event.Type = "SCANNER_READ"
	CardReaderConnected event.Type = "CARD_READER_CONNECTED"
	CardReaderError     event.Type = "CARD_READER_ERROR"
)

// Catalogue and inventory.
const (
	ProductCreated   event.Type = "PRODUCT_CREATED"
	ProductUpdated   event.Type = "PRODUCT_UPDATED"
	ProductDeleted   event.Type = "PRODUCT_DELETED"
	InventoryUpdated event.Type = "INVENTORY_UPDATED"
	InventoryLow     event.Type = "INVENTORY_LOW"
	InventoryOut     event.Type = "INVENTORY_OUT"
)

// Orders.
const (
	OrderCreated   event.Type = "ORDER_CREATED"
	OrderUpdated   event.Type = "ORDER_UPDATED"
	OrderConfirmed event.Type = "ORDER_CONFIRMED"
	OrderReady     event.Type = "ORDER_READY"
	OrderCompleted event.Type = "ORDER_COMPLETED"
	OrderCancelled event.Type = "ORDER_CANCELLED"
	OrderRefunded  event.Type = "ORDER_REFUNDED"
)

// Payments.
const (
	PaymentInitiated      event.Type = "PAYMENT_INITIATED"
	PaymentCompleted      event.Type = "PAYMENT_COMPLETED"
	PaymentFailed         event.Type = "PAYMENT_FAILED"
	PaymentRefunded       event.Type = "PAYMENT_REFUNDED"
	PaymentRetryScheduled event.Type = "PAYMENT_RETRY_SCHEDULED"
	CurrencyConverted     event.Type = "CURRENCY_CONVERTED"
)

// Users and shifts.
const (
	UserLoggedIn  event.Type = "USER_LOGGED_IN"
	UserLoggedOut event.Type = "USER_LOGGED_OUT"
	UserCreated   event.Type = "USER_CREATED"
	UserUpdated   event.Type = "USER_UPDATED"
	ShiftStarted  event.Type = "SHIFT_STARTED"
	ShiftEnded    event.Type = "SHIFT_ENDED"
)

// Offline sync and connectivity.
const (
	SyncRequested  event.Type = "SYNC_REQUESTED"
	SyncStarted    event.Type = "SYNC_STARTED"
	SyncCompleted  event.Type = "SYNC_COMPLETED"
	SyncFailed     event.Type = "SYNC_FAILED"
	SyncConflict   event.Type = "SYNC_CONFLICT"
	NetworkOnline  event.Type = "NETWORK_ONLINE"
	NetworkOffline event.Type = "NETWORK_OFFLINE"
)

// Businesses and branches.
const (
	BusinessRegistered event.Type = "BUSINESS_REGISTERED"
	BusinessUpdated    event.Type = "BUSINESS_UPDATED"
	BranchOpened       event.Type = "BRANCH_OPENED"
	BranchClosed       event.Type = "BRANCH_CLOSED"
	SettingsChanged    event.Type = "SETTINGS_CHANGED"
)

// Security.
const (
	AuthFailed         event.Type = "AUTH_FAILED"
	PermissionDenied   event.Type = "PERMISSION_DENIED"
	SessionExpired     event.Type = "SESSION_EXPIRED"
	SuspiciousActivity event.Type = "SUSPICIOUS_ACTIVITY"
)

// Bus diagnostics.
const (
	EventHandlerError    = event.TypeHandlerError
	EventProcessingError = event.TypeProcessingError
)

var catalog = map[Category][]event.Type{
	CategoryLifecycle: {AppStarted, AppStopped, AppForeground, AppBackground, AppUpdated},
	CategoryHardware: {
		PrinterConnected, PrinterDisconnected, PrinterError, ReceiptPrinted,
		CashDrawerOpened, CashDrawerClosed, ScannerRead, CardReaderConnected, CardReaderError,
	},
	CategoryProduct: {ProductCreated, ProductUpdated, ProductDeleted, InventoryUpdated, InventoryLow, InventoryOut},
	CategoryTransaction: {
		OrderCreated, OrderUpdated, OrderConfirmed, OrderReady, OrderCompleted, OrderCancelled, OrderRefunded,
	},
	CategoryPayment: {
		PaymentInitiated, PaymentCompleted, PaymentFailed, PaymentRefunded, PaymentRetryScheduled, CurrencyConverted,
	},
	CategoryUser:     {UserLoggedIn, UserLoggedOut, UserCreated, UserUpdated, ShiftStarted, ShiftEnded},
	CategorySync:     {SyncRequested, SyncStarted, SyncCompleted, SyncFailed, SyncConflict, NetworkOnline, NetworkOffline},
	CategoryBusiness: {BusinessRegistered, BusinessUpdated, BranchOpened, BranchClosed, SettingsChanged},
	CategorySecurity: {AuthFailed, PermissionDenied, SessionExpired, SuspiciousActivity},
	CategorySystem:   {EventHandlerError, EventProcessingError},
}

var categoryOf = func() map[event.Type]Category {
	m := make(map[event.Type]Category)
	for c, types := range catalog {
		for _, t := range types {
			m[t] = c
		}
	}
	return m
}()

// Known reports whether t is part of the documented vocabulary.
func Known(t event.Type) bool {
	_, ok := categoryOf[t]
	return ok
}

// CategoryOf returns the category of a documented type. The second result
// is false for types outside the vocabulary.
func CategoryOf(t event.Type) (Category, bool) {
	c, ok := categoryOf[t]
	return c, ok
}

// Types returns the documented types of a category in declaration order.
func Types(c Category) []event.Type {
	return append([]event.Type(nil), catalog[c]...)
}

// Categories returns every category, sorted by name.
func Categories() []Category {
	cs := make([]Category, 0, len(catalog))
	for c := range catalog {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
	return cs
}

// All returns every documented type, sorted.
func All() []event.Type {
	all := make([]event.Type, 0, len(categoryOf))
	for t := range categoryOf {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}
