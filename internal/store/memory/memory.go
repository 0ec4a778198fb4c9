package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]map[string]domain.Product
	transactions    map[string][]domain.Transaction
	idempotency     map[string]int
	shifts          map[string]map[string]domain.CashShift
	movements       map[string][]domain.CashMovement
	purchases       map[string]map[string]domain.Purchase
	settings        map[string]domain.StoreSettings
	suppliers       map[string]map[string]domain.Supplier
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:        make(map[string]map[string]domain.Product),
		transactions:    make(map[string][]domain.Transaction),
		idempotency:     make(map[string]int),
		shifts:          make(map[string]map[string]domain.CashShift),
		movements:       make(map[string][]domain.CashMovement),
		purchases:       make(map[string]map[string]domain.Purchase),
		settings:        make(map[string]domain.StoreSettings),
		suppliers:       make(map[string]map[string]domain.Supplier),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD with dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo catalog for "main-store".
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	const storeID = "main-store"
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "mie-goreng", Name: "Mie Goreng Instan", Category: "grocery", PriceCents: 350000, CostCents: 270000, Stock: 120},
		{ID: "telur-10", Name: "Telur 10 Butir", Category: "grocery", PriceCents: 2650000, CostCents: 2300000, Stock: 40},
		{ID: "susu-uht", Name: "Susu UHT 1L", Category: "dairy", PriceCents: 1890000, CostCents: 1360000, Stock: 60},
		{ID: "kopi-sachet", Name: "Kopi Sachet", Category: "beverage", PriceCents: 260000, CostCents: 170000, Stock: 200},
		{ID: "air-600", Name: "Air Mineral 600ml", Category: "beverage", PriceCents: 390000, CostCents: 320000, Stock: 150},
		{
			ID: "kaos-polos", Name: "Kaos Polos", Category: "apparel", PriceCents: 5500000, CostCents: 3500000,
			HasVariants: true,
			Variants: []domain.ProductVariant{
				{ID: "kaos-polos-m", Name: "M", Stock: 12},
				{ID: "kaos-polos-l", Name: "L", Stock: 8},
				{ID: "kaos-polos-xl", Name: "XL", PriceCents: 6000000, Stock: 4},
			},
		},
		{
			ID: "mie-goreng-5", Name: "Mie Goreng Isi 5", Category: "grocery", PriceCents: 1650000, Stock: 10,
			IsPack:    true,
			PackItems: []domain.PackItem{{ProductID: "mie-goreng", Quantity: 5}},
		},
	}
	catalog := make(map[string]domain.Product, len(products))
	for _, p := range products {
		p.StoreID = storeID
		p.Active = true
		p.UpdatedAt = now
		p.SyncVariantStock()
		catalog[p.ID] = p
	}
	s.products[storeID] = catalog
	s.settings[storeID] = domain.StoreSettings{
		StoreID:          storeID,
		StoreName:        "Toko Utama",
		Currency:         "IDR",
		TaxRatePercent:   11,
		PricesIncludeTax: true,
		UpdatedAt:        now,
	}
	s.suppliers[storeID] = map[string]domain.Supplier{
		"sup-sumber-rejeki": {ID: "sup-sumber-rejeki", StoreID: storeID, Name: "CV Sumber Rejeki", Phone: "0812-0000-1111", CreatedAt: now},
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products[storeID]))
	for _, p := range s.products[storeID] {
		products = append(products, p.Clone())
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, storeID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[storeID][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := p.Clone()
	return &dup, nil
}

func (s *Store) SaveProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.putProduct(product)
	dup := product.Clone()
	return &dup, nil
}

func (s *Store) SaveProducts(_ context.Context, storeID string, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		if p.ID == "" {
			return store.ErrInvalidTransaction
		}
	}
	for _, p := range products {
		p.StoreID = storeID
		s.putProduct(p)
	}
	return nil
}

func (s *Store) putProduct(p domain.Product) {
	catalog, ok := s.products[p.StoreID]
	if !ok {
		catalog = make(map[string]domain.Product)
		s.products[p.StoreID] = catalog
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	catalog[p.ID] = p.Clone()
}

func (s *Store) DeleteProduct(_ context.Context, storeID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[storeID][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products[storeID], id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, storeID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.transactions[storeID]))
	for _, tx := range s.transactions[storeID] {
		if filter.ShiftID != "" && tx.ShiftID != filter.ShiftID {
			continue
		}
		if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !tx.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, tx.Clone())
	}
	return out, nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, storeID string, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.idempotency[storeID+"::"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx := s.transactions[storeID][idx].Clone()
	return &tx, nil
}

func (s *Store) SaveTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" || tx.StoreID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	idemKey := tx.StoreID + "::" + tx.IdempotencyKey
	if tx.IdempotencyKey != "" {
		if _, exists := s.idempotency[idemKey]; exists {
			return nil, store.ErrConflict
		}
	}
	for _, existing := range s.transactions[tx.StoreID] {
		if existing.ID == tx.ID {
			return nil, store.ErrConflict
		}
	}

	s.transactions[tx.StoreID] = append(s.transactions[tx.StoreID], tx.Clone())
	if tx.IdempotencyKey != "" {
		s.idempotency[idemKey] = len(s.transactions[tx.StoreID]) - 1
	}
	dup := tx.Clone()
	return &dup, nil
}

func (s *Store) MarkStockSynced(_ context.Context, storeID string, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transactions[storeID] {
		if s.transactions[storeID][i].ID == transactionID {
			s.transactions[storeID][i].StockSynced = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListShifts(_ context.Context, storeID string) ([]domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shifts := make([]domain.CashShift, 0, len(s.shifts[storeID]))
	for _, shift := range s.shifts[storeID] {
		shifts = append(shifts, cloneShift(shift))
	}
	slices.SortFunc(shifts, func(a, b domain.CashShift) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return shifts, nil
}

func (s *Store) GetShift(_ context.Context, storeID string, id string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[storeID][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneShift(shift)
	return &dup, nil
}

func (s *Store) SaveShift(_ context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shift.ID == "" || shift.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	byID, ok := s.shifts[shift.StoreID]
	if !ok {
		byID = make(map[string]domain.CashShift)
		s.shifts[shift.StoreID] = byID
	}
	if existing, ok := byID[shift.ID]; ok && existing.Status == domain.ShiftStatusClosed {
		return nil, store.ErrShiftClosed
	}
	if shift.Status == domain.ShiftStatusOpen {
		for _, other := range byID {
			if other.ID != shift.ID && other.Status == domain.ShiftStatusOpen && other.TerminalID == shift.TerminalID {
				return nil, store.ErrConflict
			}
		}
	}

	byID[shift.ID] = cloneShift(shift)
	dup := cloneShift(shift)
	return &dup, nil
}

func (s *Store) ListMovements(_ context.Context, storeID string, shiftID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CashMovement, 0, 16)
	for _, m := range s.movements[storeID] {
		if shiftID != "" && m.ShiftID != shiftID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) SaveMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ID == "" || movement.StoreID == "" || movement.ShiftID == "" || movement.AmountCents < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if shift, ok := s.shifts[movement.StoreID][movement.ShiftID]; ok && shift.Status == domain.ShiftStatusClosed {
		return nil, store.ErrShiftClosed
	}
	s.movements[movement.StoreID] = append(s.movements[movement.StoreID], movement)
	return &movement, nil
}

func (s *Store) ListPurchases(_ context.Context, storeID string, status string, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Purchase, 0, len(s.purchases[storeID]))
	for _, p := range s.purchases[storeID] {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Purchase) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetPurchase(_ context.Context, storeID string, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[storeID][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := p.Clone()
	return &dup, nil
}

func (s *Store) SavePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if purchase.ID == "" || purchase.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	byID, ok := s.purchases[purchase.StoreID]
	if !ok {
		byID = make(map[string]domain.Purchase)
		s.purchases[purchase.StoreID] = byID
	}
	// the received flag only moves through the reception calls
	if existing, ok := byID[purchase.ID]; ok && existing.Received != purchase.Received {
		return nil, store.ErrConflict
	}
	byID[purchase.ID] = purchase.Clone()
	dup := purchase.Clone()
	return &dup, nil
}

func (s *Store) ConfirmReceptionAndSyncStock(_ context.Context, purchase domain.Purchase, products []domain.Product) (*domain.Purchase, error) {
	return s.syncReception(purchase, products, domain.ReceivedNo)
}

func (s *Store) RevertReceptionAndSyncStock(_ context.Context, purchase domain.Purchase, products []domain.Product) (*domain.Purchase, error) {
	return s.syncReception(purchase, products, domain.ReceivedYes)
}

// syncReception writes the purchase and its products under one lock after
// checking the stored purchase is still in the expected received state.
func (s *Store) syncReception(purchase domain.Purchase, products []domain.Product, want string) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.purchases[purchase.StoreID][purchase.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current := existing.Received
	if current == "" {
		current = domain.ReceivedNo
	}
	if current != want {
		return nil, store.ErrConflict
	}
	for _, p := range products {
		if _, ok := s.products[purchase.StoreID][p.ID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	for _, p := range products {
		p.StoreID = purchase.StoreID
		s.putProduct(p)
	}
	s.purchases[purchase.StoreID][purchase.ID] = purchase.Clone()
	dup := purchase.Clone()
	return &dup, nil
}

func (s *Store) GetSettings(_ context.Context, storeID string) (*domain.StoreSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[storeID]
	if !ok {
		settings = store.DefaultSettings(storeID)
	}
	return &settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.StoreSettings) (*domain.StoreSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	s.settings[settings.StoreID] = settings
	return &settings, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" || supplier.StoreID == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	byID, ok := s.suppliers[supplier.StoreID]
	if !ok {
		byID = make(map[string]domain.Supplier)
		s.suppliers[supplier.StoreID] = byID
	}
	for _, existing := range byID {
		if strings.EqualFold(existing.Name, supplier.Name) {
			return nil, store.ErrConflict
		}
	}
	byID[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context, storeID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Supplier, 0, len(s.suppliers[storeID]))
	for _, sup := range s.suppliers[storeID] {
		out = append(out, sup)
	}
	slices.SortFunc(out, func(a, b domain.Supplier) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneShift(src domain.CashShift) domain.CashShift {
	dup := src
	if src.EndTime != nil {
		end := *src.EndTime
		dup.EndTime = &end
	}
	return dup
}
