package service

import (
	"sync"
	"testing"
	"time"

	"coopcredit/internal/model"
	"coopcredit/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPenaltyToCredit_PercentageOnOverduePurchase(t *testing.T) {
	e := newEnv(t)
	m := e.member()

	// GIVEN a $500 purchase, 30 days terms, 10% penalty, made 40 days ago
	d := e.purchase(m.ID, "500", e.clock.Now().AddDate(0, 0, -40),
		withTerms(30, model.PenaltyTypePercentage, "10"))

	// WHEN the penalty engine runs for it
	res, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)

	// THEN one $50 adjustment is posted and linked back
	assert.True(t, res.Applied)
	assert.Equal(t, money.MustParse("50"), res.Penalty)
	require.NotNil(t, res.PenaltyEntry)
	assert.Equal(t, model.EntryKindDebitAdjustment, res.PenaltyEntry.Kind)
	require.NotNil(t, res.PenaltyEntry.ParentEntryID)
	assert.Equal(t, d.ID, *res.PenaltyEntry.ParentEntryID)
	assert.True(t, e.entry(d.ID).PenaltyApplied)
	assert.Equal(t, money.MustParse("550"), res.NewBalance)
	assert.Equal(t, money.MustParse("550"), e.requireConserved(m.ID))
	assert.Contains(t, e.outboxEvents(m.ID), model.EventPenaltyApplied)
}

func TestApplyPenaltyToCredit_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "500", e.clock.Now().AddDate(0, 0, -40),
		withTerms(30, model.PenaltyTypePercentage, "10"))

	_, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)
	again, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)

	assert.False(t, again.Applied)
	assert.Equal(t, PenaltySkipAlreadyDone, again.SkipReason)
	children, err := e.ledger.ListChildren(e.ctx, nil, d.ID)
	require.NoError(t, err)
	assert.Len(t, children, 1)
	assert.Equal(t, money.MustParse("550"), e.requireConserved(m.ID))
}

func TestApplyPenaltyToCredit_ConcurrentTriggersPostOnce(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "500", e.clock.Now().AddDate(0, 0, -40),
		withTerms(30, model.PenaltyTypePercentage, "10"))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	children, err := e.ledger.ListChildren(e.ctx, nil, d.ID)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestApplyPenaltyToCredit_ForcePostsAgain(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "500", e.clock.Now().AddDate(0, 0, -40),
		withTerms(30, model.PenaltyTypePercentage, "10"))

	_, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)
	forced, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{Force: true})
	require.NoError(t, err)

	assert.True(t, forced.Applied)
	assert.Equal(t, money.MustParse("50"), forced.Penalty)
	assert.Equal(t, money.MustParse("600"), e.requireConserved(m.ID))
}

func TestApplyPenaltyToCredit_UsesOutstandingNotFaceValue(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "500", e.clock.Now().AddDate(0, 0, -40),
		withTerms(30, model.PenaltyTypePercentage, "10"))

	_, err := e.payments.Allocate(e.ctx, m.ID, money.MustParse("200"), AllocateOptions{})
	require.NoError(t, err)

	res, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("300"), res.Outstanding)
	assert.Equal(t, money.MustParse("30"), res.Penalty)

	// later payments do not reopen the penalty
	_, err = e.payments.Allocate(e.ctx, m.ID, money.MustParse("100"), AllocateOptions{})
	require.NoError(t, err)
	again, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)
	assert.False(t, again.Applied)
	e.requireConserved(m.ID)
}

func TestApplyPenaltyToCredit_Fixed(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "80", e.clock.Now().AddDate(0, 0, -20),
		withTerms(14, model.PenaltyTypeFixed, "7.5"))

	res, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{})
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("7.50"), res.Penalty)
}

func TestApplyPenaltyToCredit_Skips(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	now := e.clock.Now()

	notDue := e.purchase(m.ID, "100", now.AddDate(0, 0, -10), withTerms(30, model.PenaltyTypePercentage, "10"))
	noTerms := e.purchase(m.ID, "100", now.AddDate(0, 0, -90))
	paid := e.purchase(m.ID, "1", now.AddDate(0, 0, -100), withTerms(30, model.PenaltyTypeFixed, "5"))
	_, err := e.payments.Allocate(e.ctx, m.ID, money.MustParse("1"), AllocateOptions{})
	require.NoError(t, err)

	cases := map[int64]string{
		notDue.ID:  PenaltySkipNotDue,
		noTerms.ID: PenaltySkipNoTerms,
		paid.ID:    PenaltySkipPaid,
	}
	for id, reason := range cases {
		res, err := e.penalties.ApplyPenaltyToCredit(e.ctx, id, PenaltyOptions{Force: true})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, reason, res.SkipReason)
	}

	// the not-due entry becomes eligible once its due date has passed
	e.clock.Advance(25 * 24 * time.Hour)
	res, err := e.penalties.ApplyPenaltyToCredit(e.ctx, notDue.ID, PenaltyOptions{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, e.clock.Now().Equal(res.PenaltyEntry.OccurredAt))
	e.requireConserved(m.ID)
}

func TestApplyPenaltyToCredit_RejectsFutureNow(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "100", e.clock.Now().AddDate(0, 0, -10), withTerms(30, model.PenaltyTypeFixed, "5"))

	future := e.clock.Now().AddDate(0, 0, 25)
	_, err := e.penalties.ApplyPenaltyToCredit(e.ctx, d.ID, PenaltyOptions{Now: &future})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "now", verr.Field)

	assert.False(t, e.entry(d.ID).PenaltyApplied)
	assert.Equal(t, money.MustParse("100"), e.requireConserved(m.ID))
}

func TestApplyPenaltyToCredit_RejectsNonPurchase(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	e.purchase(m.ID, "10", jan(1))
	res, err := e.payments.Allocate(e.ctx, m.ID, money.MustParse("5"), AllocateOptions{})
	require.NoError(t, err)

	_, err = e.penalties.ApplyPenaltyToCredit(e.ctx, res.CreditEntry.ID, PenaltyOptions{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApplyProductPenalties_Batch(t *testing.T) {
	e := newEnv(t)
	a, b := e.member(), e.member()
	now := e.clock.Now()

	e.purchase(a.ID, "500", now.AddDate(0, 0, -40), withTerms(30, model.PenaltyTypePercentage, "10"))
	e.purchase(a.ID, "100", now.AddDate(0, 0, -5), withTerms(30, model.PenaltyTypePercentage, "10"))
	e.purchase(b.ID, "200", now.AddDate(0, 0, -61), withTerms(60, model.PenaltyTypeFixed, "12"))
	e.purchase(b.ID, "300", now.AddDate(0, 0, -61))

	summary, err := e.penalties.ApplyProductPenalties(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 2, summary.Applied)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, money.MustParse("62"), summary.Total)

	// a rerun finds nothing new
	summary, err = e.penalties.ApplyProductPenalties(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Applied)

	assert.Equal(t, money.MustParse("650"), e.requireConserved(a.ID))
	assert.Equal(t, money.MustParse("512"), e.requireConserved(b.ID))
}

func TestPenaltyAmount(t *testing.T) {
	pct := model.CreditTerms{PenaltyType: model.PenaltyTypePercentage, PenaltyValue: mustDecimal("2.5")}
	assert.Equal(t, money.Cents(83), penaltyAmount(pct, money.MustParse("33.33")))

	fixed := model.CreditTerms{PenaltyType: model.PenaltyTypeFixed, PenaltyValue: mustDecimal("15")}
	assert.Equal(t, money.MustParse("15"), penaltyAmount(fixed, money.MustParse("1")))

	assert.Equal(t, money.Zero, penaltyAmount(model.CreditTerms{}, money.MustParse("100")))
}
