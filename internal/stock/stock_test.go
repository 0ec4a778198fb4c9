package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

func variantProduct() domain.Product {
	return domain.Product{
		ID:          "shirt",
		Name:        "Kaos Polos",
		HasVariants: true,
		Stock:       8,
		Variants: []domain.ProductVariant{
			{ID: "v1", Name: "M", Stock: 5},
			{ID: "v2", Name: "L", Stock: 3},
		},
	}
}

func TestApplySimpleSale(t *testing.T) {
	products := []domain.Product{{ID: "p1", Stock: 10}}

	updated, err := Apply(products, []Delta{{ProductID: "p1", Quantity: -3}}, Arithmetic)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 7, updated[0].Stock)
	assert.Equal(t, 10, products[0].Stock, "input must not be mutated")
}

func TestApplyVariantRecomputesParent(t *testing.T) {
	products := []domain.Product{variantProduct()}

	updated, err := Apply(products, []Delta{{ProductID: "shirt", VariantID: "v1", Quantity: -2}}, Arithmetic)
	require.NoError(t, err)
	assert.Equal(t, 3, updated[0].Variants[0].Stock)
	assert.Equal(t, 3, updated[0].Variants[1].Stock)
	assert.Equal(t, 6, updated[0].Stock)
	assert.Equal(t, 5, products[0].Variants[0].Stock)
}

func TestApplyArithmeticAllowsNegative(t *testing.T) {
	updated, err := Apply([]domain.Product{{ID: "p1", Stock: 1}}, []Delta{{ProductID: "p1", Quantity: -4}}, Arithmetic)
	require.NoError(t, err)
	assert.Equal(t, -3, updated[0].Stock)
}

func TestApplyFloorAtZeroClamps(t *testing.T) {
	products := []domain.Product{{ID: "p1", Stock: 2}, variantProduct()}

	updated, err := Apply(products, []Delta{
		{ProductID: "p1", Quantity: -5},
		{ProductID: "shirt", VariantID: "v2", Quantity: -10},
	}, FloorAtZero)
	require.NoError(t, err)
	assert.Equal(t, 0, updated[0].Stock)
	assert.Equal(t, 0, updated[1].Variants[1].Stock)
	assert.Equal(t, 5, updated[1].Stock)
}

func TestApplyAccumulatesRepeatedProduct(t *testing.T) {
	updated, err := Apply([]domain.Product{{ID: "p1", Stock: 10}}, []Delta{
		{ProductID: "p1", Quantity: -2},
		{ProductID: "p1", Quantity: 5},
	}, Arithmetic)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 13, updated[0].Stock)
}

func TestApplyPackStockIsIndependent(t *testing.T) {
	products := []domain.Product{
		{ID: "mie", Stock: 40},
		{ID: "mie-pack", Stock: 4, IsPack: true, PackItems: []domain.PackItem{{ProductID: "mie", Quantity: 5}}},
	}

	updated, err := Apply(products, []Delta{{ProductID: "mie-pack", Quantity: -1}}, Arithmetic)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "mie-pack", updated[0].ID)
	assert.Equal(t, 3, updated[0].Stock)
}

func TestApplyRejectsUnknownTargets(t *testing.T) {
	_, err := Apply([]domain.Product{{ID: "p1"}}, []Delta{{ProductID: "nope", Quantity: 1}}, Arithmetic)
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = Apply([]domain.Product{variantProduct()}, []Delta{{ProductID: "shirt", Quantity: 1}}, Arithmetic)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = Apply([]domain.Product{{ID: "p1"}}, []Delta{{ProductID: "p1", VariantID: "x", Quantity: 1}}, Arithmetic)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestShortagesSumsRepeatedLines(t *testing.T) {
	products := []domain.Product{{ID: "p1", Stock: 4}, variantProduct()}

	shortages := Shortages(products, []Delta{
		{ProductID: "p1", Quantity: -3},
		{ProductID: "p1", Quantity: -2},
		{ProductID: "shirt", VariantID: "v2", Quantity: -3},
	})
	require.Len(t, shortages, 1)
	assert.Equal(t, Shortage{ProductID: "p1", Available: 4, Requested: 5}, shortages[0])
}
