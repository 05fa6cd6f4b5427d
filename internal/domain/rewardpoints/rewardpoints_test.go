package rewardpoints

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	entries []*Entry
}

func (m *memRepo) Insert(_ context.Context, e *Entry) error {
	if e.Kind == KindRedeem {
		b, _ := m.Balance(context.Background(), e.CustomerID, e.StoreID, e.CreatedAt)
		if b+e.Points < 0 {
			return ErrInsufficientBalance
		}
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*Entry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (m *memRepo) Balance(_ context.Context, customerID, storeID string, at time.Time) (int, error) {
	sum := 0
	for _, e := range m.entries {
		if e.CustomerID != customerID || e.StoreID != storeID {
			continue
		}
		if e.ActivatesAt != nil && e.ActivatesAt.After(at) {
			continue
		}
		sum += e.Points
	}
	return sum, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSettings() Settings {
	return Settings{
		Enabled:        true,
		ExchangeRate:   dec("0.01"),
		PurchaseAmount: dec("10"),
		PurchasePoints: 1,
	}
}

func newTestLedger(s Settings) (*Ledger, *memRepo, *time.Time) {
	repo := &memRepo{}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewLedger(repo, s)
	l.now = func() time.Time { return now }
	n := 0
	l.newID = func() string {
		n++
		return "e" + strconv.Itoa(n)
	}
	return l, repo, &now
}

func TestSettings_Conversions(t *testing.T) {
	s := testSettings()

	assert.True(t, dec("15").Equal(s.PointsToAmount(1500)))
	assert.True(t, s.PointsToAmount(-5).IsZero())
	assert.Equal(t, 1000, s.AmountToPoints(dec("10")))
	assert.Equal(t, 1001, s.AmountToPoints(dec("10.001")))
	assert.Equal(t, 0, s.AmountToPoints(dec("0")))
	assert.Equal(t, 4, s.PointsForPurchase(dec("49.99")))
}

func TestSettings_RedemptionCapsAtTotal(t *testing.T) {
	s := testSettings()

	points, amount := s.Redemption(1500, dec("10.00"))
	assert.Equal(t, 1000, points)
	assert.True(t, dec("10.00").Equal(amount))

	points, amount = s.Redemption(300, dec("10.00"))
	assert.Equal(t, 300, points)
	assert.True(t, dec("3").Equal(amount))
}

func TestSettings_RedemptionRespectsMinimum(t *testing.T) {
	s := testSettings()
	s.MinimumPointsToUse = 500

	points, amount := s.Redemption(499, dec("10"))
	assert.Zero(t, points)
	assert.True(t, amount.IsZero())

	s.Enabled = false
	points, _ = s.Redemption(5000, dec("10"))
	assert.Zero(t, points)
}

func TestLedger_RedeemPreservesLeftover(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newTestLedger(testSettings())
	require.NoError(t, repo.Insert(ctx, &Entry{ID: "seed", CustomerID: "c1", StoreID: "s1", Points: 1500, Kind: KindEarn}))

	points, amount := l.Settings().Redemption(1500, dec("10.00"))
	e, err := l.Redeem(ctx, "c1", "s1", "o1", points, amount)
	require.NoError(t, err)
	assert.Equal(t, -1000, e.Points)
	assert.True(t, dec("10.00").Equal(e.UsedAmount))

	balance, err := l.Balance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 500, balance)
}

func TestLedger_RedeemOverdraw(t *testing.T) {
	l, _, _ := newTestLedger(testSettings())

	_, err := l.Redeem(context.Background(), "c1", "s1", "o1", 10, dec("0.10"))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLedger_AwardThenReduceRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(testSettings())

	before, err := l.Balance(ctx, "c1", "s1")
	require.NoError(t, err)

	award, err := l.Award(ctx, "c1", "s1", "o1", dec("120"))
	require.NoError(t, err)
	require.NotNil(t, award)
	assert.Equal(t, 12, award.Points)

	_, err = l.Reduce(ctx, award.ID)
	require.NoError(t, err)

	after, err := l.Balance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLedger_DelayedAwardAndReduceStayBalanced(t *testing.T) {
	ctx := context.Background()
	s := testSettings()
	s.ActivationDelay = 24 * time.Hour
	l, _, now := newTestLedger(s)

	award, err := l.Award(ctx, "c1", "s1", "o1", dec("100"))
	require.NoError(t, err)
	require.NotNil(t, award.ActivatesAt)

	_, err = l.Reduce(ctx, award.ID)
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	*now = now.Add(48 * time.Hour)
	balance, err = l.Balance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLedger_ReturnRestoresRedeemed(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newTestLedger(testSettings())
	require.NoError(t, repo.Insert(ctx, &Entry{ID: "seed", CustomerID: "c1", StoreID: "s1", Points: 200, Kind: KindEarn}))

	redeemed, err := l.Redeem(ctx, "c1", "s1", "o1", 200, dec("2"))
	require.NoError(t, err)

	ret, err := l.Return(ctx, redeemed.ID)
	require.NoError(t, err)
	assert.Equal(t, 200, ret.Points)
	assert.Equal(t, KindReturn, ret.Kind)

	balance, err := l.Balance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 200, balance)
}

func TestLedger_AwardNothing(t *testing.T) {
	l, repo, _ := newTestLedger(testSettings())

	e, err := l.Award(context.Background(), "c1", "s1", "o1", dec("5"))
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Empty(t, repo.entries)
}
