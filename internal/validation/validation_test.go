package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

func TestStructReportsFieldErrors(t *testing.T) {
	err := Struct(domain.MovementRequest{Type: "SIDEWAYS", AmountCents: 0})
	require.Error(t, err)

	var verrs Errors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"MovementRequest.Type", "MovementRequest.AmountCents", "MovementRequest.Description"}, fields)
	assert.Contains(t, err.Error(), "MovementRequest.Type failed oneof=IN OUT")
}

func TestStructDivesIntoCartItems(t *testing.T) {
	err := Struct(domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: "p1", Quantity: 0}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CheckoutRequest.Items[0].Quantity")

	assert.NoError(t, Struct(domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: "p1", Quantity: 1}}}))
}
