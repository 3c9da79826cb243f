package service

import (
	"testing"
	"time"

	"coopcredit/internal/model"
	"coopcredit/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompoundInterest(t *testing.T) {
	rate := mustDecimal("1.5")
	assert.Equal(t, money.MustParse("15.11"), compoundInterest(money.MustParse("1000"), rate, 30))
	assert.Equal(t, money.MustParse("30.45"), compoundInterest(money.MustParse("1000"), rate, 60))
	assert.Equal(t, money.MustParse("6.82"), compoundInterest(money.MustParse("300"), rate, 45))

	assert.Equal(t, money.Zero, compoundInterest(money.MustParse("1000"), rate, 0))
	assert.Equal(t, money.Zero, compoundInterest(money.MustParse("-10"), rate, 30))
	assert.Equal(t, money.Zero, compoundInterest(money.MustParse("1000"), mustDecimal("0"), 30))
}

func TestAccrueInterest_PostsAdjustmentAndAdvancesWatermark(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	start := e.clock.Now()

	// GIVEN a $1000 debt that is 60 days old, past the 30-day grace
	e.purchase(m.ID, "1000", start.AddDate(0, 0, -60))

	// WHEN interest accrues
	res, err := e.interest.AccrueInterest(e.ctx, m.ID)
	require.NoError(t, err)

	// THEN 60 days are charged on the balance
	assert.Equal(t, 60, res.Days)
	assert.Equal(t, money.MustParse("30.45"), res.Interest)
	require.NotNil(t, res.Entry)
	assert.Equal(t, model.EntryKindDebitAdjustment, res.Entry.Kind)
	assert.Contains(t, res.Entry.Notes, "60 days")
	assert.Equal(t, money.MustParse("1030.45"), e.requireConserved(m.ID))

	// a second run on the same day charges nothing
	res, err = e.interest.AccrueInterest(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, res.Interest)
	assert.Nil(t, res.Entry)

	// 30 days later only the new days are charged, on the new balance
	e.clock.Advance(30 * 24 * time.Hour)
	res, err = e.interest.AccrueInterest(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Days)
	assert.Equal(t, money.MustParse("15.57"), res.Interest)
	assert.Equal(t, money.MustParse("1046.02"), e.requireConserved(m.ID))
	assert.Contains(t, e.outboxEvents(m.ID), model.EventInterestAccrued)
}

func TestAccrueInterest_WithinGraceChargesNothing(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	e.purchase(m.ID, "1000", e.clock.Now().AddDate(0, 0, -10))

	res, err := e.interest.AccrueInterest(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, res.Interest)
	assert.Equal(t, money.MustParse("1000"), e.requireConserved(m.ID))
}

func TestAccrueInterest_ZeroBalance(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	e.purchase(m.ID, "100", e.clock.Now().AddDate(0, 0, -90))
	_, err := e.payments.Allocate(e.ctx, m.ID, 0, AllocateOptions{Full: true})
	require.NoError(t, err)

	res, err := e.interest.AccrueInterest(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, res.Interest)
	assert.Equal(t, money.Zero, res.Balance)
}

func TestAccrueInterest_OnlyUnpaidDebitsAge(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	now := e.clock.Now()
	e.purchase(m.ID, "100", now.AddDate(0, 0, -90))
	e.purchase(m.ID, "100", now.AddDate(0, 0, -5))

	// settling the old debit leaves only a debit inside the grace period
	_, err := e.payments.Allocate(e.ctx, m.ID, money.MustParse("100"), AllocateOptions{})
	require.NoError(t, err)

	res, err := e.interest.AccrueInterest(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, res.Interest)
}

func TestAccrueAll(t *testing.T) {
	e := newEnv(t)
	now := e.clock.Now()
	for i := 0; i < 3; i++ {
		m := e.member()
		e.purchase(m.ID, "1000", now.AddDate(0, 0, -30))
	}
	fresh := e.member()
	e.purchase(fresh.ID, "1000", now.AddDate(0, 0, -1))
	e.member() // no balance at all

	summary, err := e.interest.AccrueAll(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Members)
	assert.Equal(t, 3, summary.Charged)
	assert.Equal(t, money.MustParse("45.33"), summary.Total)
}
