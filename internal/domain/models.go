package domain

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentQRIS     PaymentMethod = "qris"
	PaymentEWallet  PaymentMethod = "ewallet"
	// PaymentMixed only appears as the legacy summary method of a split transaction.
	PaymentMixed PaymentMethod = "mixed"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentQRIS, PaymentEWallet:
		return method, true
	default:
		return "", false
	}
}

func (m PaymentMethod) IsCash() bool {
	return m == PaymentCash
}

type Product struct {
	ID          string           `json:"id"`
	StoreID     string           `json:"store_id"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	PriceCents  int64            `json:"price_cents"`
	CostCents   int64            `json:"cost_cents,omitempty"`
	Stock       int              `json:"stock"`
	HasVariants bool             `json:"has_variants"`
	Variants    []ProductVariant `json:"variants,omitempty"`
	IsPack      bool             `json:"is_pack"`
	PackItems   []PackItem       `json:"pack_items,omitempty"`
	Active      bool             `json:"active"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type ProductVariant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

// PackItem is a bundle component. Bundle stock is tracked on the pack itself.
type PackItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Variant returns the index of the variant with the given id, or -1.
func (p Product) Variant(variantID string) int {
	for i, v := range p.Variants {
		if v.ID == variantID {
			return i
		}
	}
	return -1
}

// UnitPrice resolves the selling price for a variant selection.
// A variant without its own price sells at the parent price.
func (p Product) UnitPrice(variantID string) int64 {
	if idx := p.Variant(variantID); idx >= 0 && p.Variants[idx].PriceCents > 0 {
		return p.Variants[idx].PriceCents
	}
	return p.PriceCents
}

// SyncVariantStock recomputes Stock as the sum of variant stocks.
func (p *Product) SyncVariantStock() {
	if !p.HasVariants {
		return
	}
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	p.Stock = total
}

func (p Product) Clone() Product {
	dup := p
	dup.Variants = append([]ProductVariant(nil), p.Variants...)
	dup.PackItems = append([]PackItem(nil), p.PackItems...)
	return dup
}

type ProductSaveRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name" validate:"required,max=120"`
	Category    string           `json:"category" validate:"required,max=60"`
	PriceCents  int64            `json:"price_cents" validate:"gte=0"`
	CostCents   int64            `json:"cost_cents" validate:"gte=0"`
	Stock       int              `json:"stock"`
	HasVariants bool             `json:"has_variants"`
	Variants    []ProductVariant `json:"variants" validate:"required_if=HasVariants true,dive"`
	IsPack      bool             `json:"is_pack"`
	PackItems   []PackItem       `json:"pack_items" validate:"required_if=IsPack true,dive"`
	Active      *bool            `json:"active,omitempty"`
}

type CartItem struct {
	ProductID     string `json:"product_id" validate:"required"`
	VariantID     string `json:"variant_id,omitempty"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
	DiscountCents int64  `json:"discount_cents" validate:"gte=0"`
}

type PaymentDetail struct {
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
}

type TransactionLine struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	VariantName    string `json:"variant_name,omitempty"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	DiscountCents  int64  `json:"discount_cents"`
}

type Transaction struct {
	ID                string            `json:"id"`
	StoreID           string            `json:"store_id"`
	TerminalID        string            `json:"terminal_id"`
	ShiftID           string            `json:"shift_id"`
	IdempotencyKey    string            `json:"idempotency_key"`
	Items             []TransactionLine `json:"items"`
	SubtotalCents     int64             `json:"subtotal_cents"`
	DiscountCents     int64             `json:"discount_cents"`
	TaxCents          int64             `json:"tax_cents"`
	TotalCents        int64             `json:"total_cents"`
	TaxRatePercent    float64           `json:"tax_rate_percent"`
	PricesIncludeTax  bool              `json:"prices_include_tax"`
	PaymentMethod     PaymentMethod     `json:"payment_method"`
	Payments          []PaymentDetail   `json:"payments,omitempty"`
	CashReceivedCents int64             `json:"cash_received_cents"`
	ChangeCents       int64             `json:"change_cents"`
	StockSynced       bool              `json:"stock_synced"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (t Transaction) Clone() Transaction {
	dup := t
	dup.Items = append([]TransactionLine(nil), t.Items...)
	dup.Payments = append([]PaymentDetail(nil), t.Payments...)
	return dup
}

// Tenders returns the payment breakdown. Records written before split tender
// support carry only PaymentMethod, so the whole total belongs to it.
func (t Transaction) Tenders() []PaymentDetail {
	if len(t.Payments) > 0 {
		return t.Payments
	}
	method := t.PaymentMethod
	if method == "" {
		method = PaymentCash
	}
	return []PaymentDetail{{Method: method, AmountCents: t.TotalCents}}
}

type CheckoutPayment struct {
	Method      string `json:"method" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
}

type CheckoutRequest struct {
	IdempotencyKey    string            `json:"idempotency_key"`
	Items             []CartItem        `json:"items" validate:"required,min=1,dive"`
	PaymentMethod     string            `json:"payment_method"`
	CashReceivedCents int64             `json:"cash_received_cents" validate:"gte=0"`
	Payments          []CheckoutPayment `json:"payments" validate:"dive"`
}

type CheckoutResponse struct {
	Transaction Transaction `json:"transaction"`
	Duplicate   bool        `json:"duplicate"`
}

type TotalsRequest struct {
	Items []CartItem `json:"items" validate:"required,min=1,dive"`
}

type TotalsResponse struct {
	GrossCents    int64 `json:"gross_cents"`
	DiscountCents int64 `json:"discount_cents"`
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
	Display       struct {
		Subtotal string `json:"subtotal"`
		Tax      string `json:"tax"`
		Total    string `json:"total"`
	} `json:"display"`
}

type TransactionFilter struct {
	ShiftID string
	From    time.Time
	To      time.Time
}

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

type CashShift struct {
	ID                     string     `json:"id"`
	StoreID                string     `json:"store_id"`
	TerminalID             string     `json:"terminal_id"`
	CashierName            string     `json:"cashier_name"`
	Status                 string     `json:"status"`
	StartTime              time.Time  `json:"start_time"`
	StartAmountCents       int64      `json:"start_amount_cents"`
	EndTime                *time.Time `json:"end_time,omitempty"`
	EndAmountCents         int64      `json:"end_amount_cents,omitempty"`
	TotalSalesCashCents    int64      `json:"total_sales_cash_cents"`
	TotalSalesDigitalCents int64      `json:"total_sales_digital_cents"`
	ExpectedCashCents      int64      `json:"expected_cash_cents,omitempty"`
	DiscrepancyCents       int64      `json:"discrepancy_cents,omitempty"`
	Variance               string     `json:"variance,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
}

const (
	MovementOpen  = "OPEN"
	MovementClose = "CLOSE"
	MovementIn    = "IN"
	MovementOut   = "OUT"
)

type CashMovement struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	ShiftID     string    `json:"shift_id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActiveShift is the shift a session operates against. Pending is set when the
// shift was rebuilt from the session pointer because storage has not returned it yet.
type ActiveShift struct {
	Shift   CashShift `json:"shift"`
	Pending bool      `json:"pending"`
}

// ShiftPointer is the device-local record of the shift a terminal opened.
// It carries enough of the shift to rebuild it while storage catches up.
type ShiftPointer struct {
	ShiftID          string    `json:"shift_id"`
	StoreID          string    `json:"store_id"`
	TerminalID       string    `json:"terminal_id"`
	CashierName      string    `json:"cashier_name"`
	StartAmountCents int64     `json:"start_amount_cents"`
	StartTime        time.Time `json:"start_time"`
}

type ShiftOpenRequest struct {
	CashierName      string `json:"cashier_name" validate:"required,max=80"`
	StartAmountCents int64  `json:"start_amount_cents" validate:"gte=0"`
	Notes            string `json:"notes" validate:"max=500"`
}

type ShiftCloseRequest struct {
	EndAmountCents int64  `json:"end_amount_cents" validate:"gte=0"`
	Notes          string `json:"notes" validate:"max=500"`
}

type MovementRequest struct {
	Type        string `json:"type" validate:"required,oneof=IN OUT"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Description string `json:"description" validate:"required,max=200"`
}

type MethodTotal struct {
	Method       PaymentMethod `json:"method"`
	Transactions int           `json:"transactions"`
	AmountCents  int64         `json:"amount_cents"`
}

type ShiftSummary struct {
	Shift              CashShift     `json:"shift"`
	Pending            bool          `json:"pending"`
	Transactions       int           `json:"transactions"`
	StartAmountCents   int64         `json:"start_amount_cents"`
	CashSalesCents     int64         `json:"cash_sales_cents"`
	DigitalSalesCents  int64         `json:"digital_sales_cents"`
	CashInCents        int64         `json:"cash_in_cents"`
	CashOutCents       int64         `json:"cash_out_cents"`
	CashInDrawerCents  int64         `json:"cash_in_drawer_cents"`
	ByMethod           []MethodTotal `json:"by_method"`
	DeclaredCashCents  *int64        `json:"declared_cash_cents,omitempty"`
	DiscrepancyCents   *int64        `json:"discrepancy_cents,omitempty"`
	DiscrepancyPercent string        `json:"discrepancy_percent,omitempty"`
	Variance           string        `json:"variance,omitempty"`
}

type StoreSettings struct {
	StoreID            string    `json:"store_id"`
	StoreName          string    `json:"store_name"`
	Currency           string    `json:"currency"`
	TaxRatePercent     float64   `json:"tax_rate_percent"`
	PricesIncludeTax   bool      `json:"prices_include_tax"`
	AllowNegativeStock bool      `json:"allow_negative_stock"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type SettingsUpdateRequest struct {
	StoreName          string  `json:"store_name" validate:"max=120"`
	Currency           string  `json:"currency" validate:"omitempty,len=3"`
	TaxRatePercent     float64 `json:"tax_rate_percent" validate:"gte=0,lte=100"`
	PricesIncludeTax   bool    `json:"prices_include_tax"`
	AllowNegativeStock bool    `json:"allow_negative_stock"`
}

const (
	PurchaseStatusDraft     = "BORRADOR"
	PurchaseStatusConfirmed = "CONFIRMADO"
	PurchaseStatusReceived  = "RECIBIDO"

	ReceivedYes = "YES"
	ReceivedNo  = "NO"

	PaymentConditionCash   = "CONTADO"
	PaymentConditionCredit = "CREDITO"
)

type PurchaseItem struct {
	ProductID         string `json:"product_id" validate:"required"`
	VariantID         string `json:"variant_id,omitempty"`
	Quantity          int    `json:"quantity" validate:"gt=0"`
	CostCents         int64  `json:"cost_cents" validate:"gte=0"`
	IsBonus           bool   `json:"is_bonus"`
	NewSellPriceCents int64  `json:"new_sell_price_cents" validate:"gte=0"`
}

type Purchase struct {
	ID               string         `json:"id"`
	StoreID          string         `json:"store_id"`
	Reference        string         `json:"reference"`
	Date             time.Time      `json:"date"`
	SupplierID       string         `json:"supplier_id"`
	InvoiceNumber    string         `json:"invoice_number,omitempty"`
	Items            []PurchaseItem `json:"items"`
	SubtotalCents    int64          `json:"subtotal_cents"`
	TaxCents         int64          `json:"tax_cents"`
	TotalCents       int64          `json:"total_cents"`
	AmountPaidCents  int64          `json:"amount_paid_cents"`
	PaymentCondition string         `json:"payment_condition"`
	PaymentMethod    PaymentMethod  `json:"payment_method,omitempty"`
	PayFromCash      bool           `json:"pay_from_cash"`
	TaxIncluded      bool           `json:"tax_included"`
	Status           string         `json:"status"`
	Received         string         `json:"received"`
	ReceivedAt       *time.Time     `json:"received_at,omitempty"`
	CashMovementID   string         `json:"cash_movement_id,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (p Purchase) Clone() Purchase {
	dup := p
	dup.Items = append([]PurchaseItem(nil), p.Items...)
	if p.ReceivedAt != nil {
		at := *p.ReceivedAt
		dup.ReceivedAt = &at
	}
	return dup
}

type PurchaseSaveRequest struct {
	Reference        string         `json:"reference" validate:"max=60"`
	Date             *time.Time     `json:"date,omitempty"`
	SupplierID       string         `json:"supplier_id" validate:"required"`
	InvoiceNumber    string         `json:"invoice_number" validate:"max=60"`
	Items            []PurchaseItem `json:"items" validate:"required,min=1,dive"`
	AmountPaidCents  int64          `json:"amount_paid_cents" validate:"gte=0"`
	PaymentCondition string         `json:"payment_condition" validate:"omitempty,oneof=CONTADO CREDITO"`
	PaymentMethod    string         `json:"payment_method"`
	PayFromCash      bool           `json:"pay_from_cash"`
	TaxIncluded      bool           `json:"tax_included"`
	Notes            string         `json:"notes" validate:"max=500"`
}

type PurchaseResponse struct {
	Purchase Purchase `json:"purchase"`
	// Applied is false when a reception transition was already in effect.
	Applied bool `json:"applied"`
}

type ReconciliationEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	StoreID    string    `json:"store_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	Cause      string    `json:"cause"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	EventStockSyncFailed    = "stock_sync_failed"
	EventOpenMovementFailed = "open_movement_failed"
	EventCashPaymentFailed  = "cash_payment_failed"
	EventCashRefundPending  = "cash_refund_pending"
	EventCloseShiftFailed   = "close_shift_failed"
)

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TerminalID string `json:"terminal_id" validate:"omitempty,max=32,alphanum"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	TerminalID  string `json:"terminal_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username   string
	Role       string
	StoreID    string
	TerminalID string
}

type Supplier struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"max=30"`
}

// CashierCreateRequest caps the password at bcrypt's 72 byte input limit.
type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LowStockItem struct {
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id,omitempty"`
	Name          string `json:"name"`
	Stock         int    `json:"stock"`
	IsPack        bool   `json:"is_pack"`
	SuggestedQty  int    `json:"suggested_order_qty"`
	LastCostCents int64  `json:"last_cost_cents"`
}

type DailyReport struct {
	StoreID         string        `json:"store_id"`
	Date            string        `json:"date"`
	Transactions    int64         `json:"transactions"`
	GrossSalesCents int64         `json:"gross_sales_cents"`
	DiscountCents   int64         `json:"discount_cents"`
	TaxCents        int64         `json:"tax_cents"`
	NetSalesCents   int64         `json:"net_sales_cents"`
	ByPayment       []MethodTotal `json:"by_payment"`
	UnsyncedStock   int64         `json:"unsynced_stock_transactions"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
