package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

func TestSettleRejectsShortPayment(t *testing.T) {
	_, err := Settle(5000, []domain.PaymentDetail{{Method: domain.PaymentCash, AmountCents: 4999}})
	require.ErrorIs(t, err, ErrInsufficientPayment)
}

func TestSettleExactCash(t *testing.T) {
	s, err := Settle(5000, []domain.PaymentDetail{{Method: domain.PaymentCash, AmountCents: 5000}})
	require.NoError(t, err)
	assert.Zero(t, s.ChangeCents)
	assert.Equal(t, []domain.PaymentDetail{{Method: domain.PaymentCash, AmountCents: 5000}}, s.Payments)
}

func TestSettleNetsChangeOutOfCash(t *testing.T) {
	s, err := Settle(5000, []domain.PaymentDetail{{Method: domain.PaymentCash, AmountCents: 10000}})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), s.ChangeCents)
	assert.Equal(t, int64(10000), s.CashReceivedCents)
	assert.Equal(t, int64(5000), s.Payments[0].AmountCents)
}

func TestSettleSplitTender(t *testing.T) {
	s, err := Settle(5000, []domain.PaymentDetail{
		{Method: domain.PaymentCard, AmountCents: 3000},
		{Method: domain.PaymentCash, AmountCents: 3000},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s.ChangeCents)

	var sum int64
	for _, p := range s.Payments {
		sum += p.AmountCents
	}
	assert.Equal(t, int64(5000), sum)
	assert.Equal(t, domain.PaymentDetail{Method: domain.PaymentCash, AmountCents: 2000}, s.Payments[1])
	assert.Equal(t, domain.PaymentMixed, SummaryMethod(s.Payments))
}

func TestSettleDropsCashLineFullyConsumedByChange(t *testing.T) {
	s, err := Settle(5000, []domain.PaymentDetail{
		{Method: domain.PaymentQRIS, AmountCents: 5000},
		{Method: domain.PaymentCash, AmountCents: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), s.ChangeCents)
	assert.Equal(t, []domain.PaymentDetail{{Method: domain.PaymentQRIS, AmountCents: 5000}}, s.Payments)
	assert.Equal(t, domain.PaymentQRIS, SummaryMethod(s.Payments))
}

func TestSettleRejectsCardOverpayment(t *testing.T) {
	_, err := Settle(5000, []domain.PaymentDetail{{Method: domain.PaymentCard, AmountCents: 6000}})
	require.ErrorIs(t, err, ErrChangeWithoutCash)
}
