package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

const defaultLowStockThreshold = 5

func (s *Service) ListProducts(ctx context.Context, sess *session.Session) ([]domain.Product, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, storeID)
}

// SaveProduct creates a product when id is empty and replaces it otherwise.
// Variant products always carry the sum of their variants as stock.
func (s *Service) SaveProduct(ctx context.Context, sess *session.Session, id string, req domain.ProductSaveRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.Product{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if err := validate(req); err != nil {
		return domain.Product{}, err
	}

	id = strings.TrimSpace(id)
	product := domain.Product{ID: id, StoreID: storeID, Active: true}
	action := "product_create"
	if id != "" {
		existing, err := s.repo.GetProduct(ctx, storeID, id)
		if err != nil {
			return domain.Product{}, err
		}
		product = existing.Clone()
		action = "product_update"
	} else {
		product.ID = xid.New("prd")
	}

	product.Name = req.Name
	product.Category = req.Category
	product.PriceCents = req.PriceCents
	product.CostCents = req.CostCents
	product.Stock = req.Stock
	product.HasVariants = req.HasVariants && len(req.Variants) > 0
	product.Variants = nil
	if product.HasVariants {
		product.Variants = make([]domain.ProductVariant, 0, len(req.Variants))
		seen := make(map[string]bool, len(req.Variants))
		for _, v := range req.Variants {
			v.ID = strings.TrimSpace(v.ID)
			v.Name = strings.TrimSpace(v.Name)
			if v.ID == "" {
				v.ID = xid.New("var")
			}
			if v.Name == "" || seen[v.ID] || v.PriceCents < 0 {
				return domain.Product{}, fmt.Errorf("%w: invalid variant %q", store.ErrInvalidTransaction, v.ID)
			}
			seen[v.ID] = true
			product.Variants = append(product.Variants, v)
		}
		product.SyncVariantStock()
	}

	product.IsPack = req.IsPack && len(req.PackItems) > 0
	product.PackItems = nil
	if product.IsPack {
		catalog, err := s.repo.ListProducts(ctx, storeID)
		if err != nil {
			return domain.Product{}, err
		}
		for _, item := range req.PackItems {
			if item.ProductID == product.ID || item.Quantity < 1 || !slices.ContainsFunc(catalog, func(p domain.Product) bool { return p.ID == item.ProductID }) {
				return domain.Product{}, fmt.Errorf("%w: invalid pack item %q", store.ErrInvalidTransaction, item.ProductID)
			}
			product.PackItems = append(product.PackItems, item)
		}
	}
	if req.Active != nil {
		product.Active = *req.Active
	}
	product.UpdatedAt = s.now()

	saved, err := s.repo.SaveProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, storeID, action, "product", saved.ID, fmt.Sprintf("name=%s,price=%s,stock=%d,active=%t", saved.Name, money.Format(saved.PriceCents), saved.Stock, saved.Active))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, sess *session.Session, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	storeID, err := scope(sess)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, storeID, id); err != nil {
		return err
	}
	s.logAudit(ctx, storeID, "product_delete", "product", id, "deleted")
	return nil
}

// LowStock lists active products and variants at or below threshold, most
// depleted first, with a restock quantity up to twice the threshold.
func (s *Service) LowStock(ctx context.Context, sess *session.Session, threshold int) ([]domain.LowStockItem, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	if threshold < 1 {
		threshold = defaultLowStockThreshold
	}
	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LowStockItem, 0, 16)
	add := func(p domain.Product, variantID string, name string, current int) {
		if current > threshold {
			return
		}
		items = append(items, domain.LowStockItem{
			ProductID:     p.ID,
			VariantID:     variantID,
			Name:          name,
			Stock:         current,
			IsPack:        p.IsPack,
			SuggestedQty:  threshold*2 - current,
			LastCostCents: p.CostCents,
		})
	}
	for _, p := range products {
		if !p.Active {
			continue
		}
		if !p.HasVariants {
			add(p, "", p.Name, p.Stock)
			continue
		}
		for _, v := range p.Variants {
			add(p, v.ID, p.Name+" "+v.Name, v.Stock)
		}
	}

	slices.SortFunc(items, func(a, b domain.LowStockItem) int {
		if c := cmp.Compare(a.Stock, b.Stock); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Service) GetSettings(ctx context.Context, sess *session.Session) (domain.StoreSettings, error) {
	storeID, err := scope(sess)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	settings, err := s.repo.GetSettings(ctx, storeID)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	return *settings, nil
}

func (s *Service) SaveSettings(ctx context.Context, sess *session.Session, req domain.SettingsUpdateRequest) (domain.StoreSettings, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StoreSettings{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	req.StoreName = strings.TrimSpace(req.StoreName)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := validate(req); err != nil {
		return domain.StoreSettings{}, err
	}

	current, err := s.repo.GetSettings(ctx, storeID)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	next := *current
	if req.StoreName != "" {
		next.StoreName = req.StoreName
	}
	if req.Currency != "" {
		next.Currency = req.Currency
	}
	next.TaxRatePercent = req.TaxRatePercent
	next.PricesIncludeTax = req.PricesIncludeTax
	next.AllowNegativeStock = req.AllowNegativeStock
	next.UpdatedAt = s.now()

	saved, err := s.repo.SaveSettings(ctx, next)
	if err != nil {
		return domain.StoreSettings{}, err
	}

	s.logAudit(ctx, storeID, "settings_update", "settings", storeID, fmt.Sprintf("tax=%.2f,inclusive=%t,negative_stock=%t", saved.TaxRatePercent, saved.PricesIncludeTax, saved.AllowNegativeStock))
	return *saved, nil
}

func (s *Service) CreateSupplier(ctx context.Context, sess *session.Session, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := validate(req); err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		StoreID:   storeID,
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, storeID, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context, sess *session.Session) ([]domain.Supplier, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, storeID)
}
