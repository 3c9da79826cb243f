package service

import (
	"testing"

	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCreditPurchase(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	at := jan(5)

	res, err := e.purchases.RecordCreditPurchase(e.ctx, &PurchaseRequest{
		MemberID:          m.ID,
		Amount:            money.MustParse("42.50"),
		RelatedPurchaseID: "SALE-1",
		ProductID:         "rice-25kg",
		OccurredAt:        &at,
	})
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, model.EntryKindDebitSpent, res.Entry.Kind)
	assert.Equal(t, model.EntryStatusPending, res.Entry.Status)
	assert.Equal(t, "SALE-1", res.Entry.RelatedPurchaseID)
	assert.Regexp(t, `^SPN20\d{6}\d+$`, res.Entry.ReferenceNo)
	assert.False(t, res.Entry.Terms.IsSet())
	assert.Equal(t, money.MustParse("42.50"), res.NewBalance)
	assert.Equal(t, []string{model.EventPurchaseRecorded}, e.outboxEvents(m.ID))
}

func TestRecordCreditPurchase_IdempotentOnPurchaseID(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	req := &PurchaseRequest{MemberID: m.ID, Amount: money.MustParse("10"), RelatedPurchaseID: "SALE-9"}

	first, err := e.purchases.RecordCreditPurchase(e.ctx, req)
	require.NoError(t, err)
	second, err := e.purchases.RecordCreditPurchase(e.ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, money.MustParse("10"), e.requireConserved(m.ID))

	_, err = e.purchases.RecordCreditPurchase(e.ctx, &PurchaseRequest{MemberID: m.ID, Amount: money.MustParse("11"), RelatedPurchaseID: "SALE-9"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordCreditPurchase_SnapshotsCatalogTerms(t *testing.T) {
	e := newEnv(t)
	m := e.member()

	_, err := e.purchases.UpsertProductTerms(e.ctx, "fertilizer", model.CreditTerms{
		DueDays: 45, PenaltyType: model.PenaltyTypePercentage, PenaltyValue: mustDecimal("5"),
	})
	require.NoError(t, err)

	res, err := e.purchases.RecordCreditPurchase(e.ctx, &PurchaseRequest{
		MemberID: m.ID, Amount: money.MustParse("200"), RelatedPurchaseID: "SALE-2", ProductID: "fertilizer",
	})
	require.NoError(t, err)

	// later catalog edits do not touch the recorded purchase
	_, err = e.purchases.UpsertProductTerms(e.ctx, "fertilizer", model.CreditTerms{
		DueDays: 10, PenaltyType: model.PenaltyTypeFixed, PenaltyValue: mustDecimal("99"),
	})
	require.NoError(t, err)

	got := e.entry(res.Entry.ID)
	assert.Equal(t, 45, got.Terms.DueDays)
	assert.Equal(t, model.PenaltyTypePercentage, got.Terms.PenaltyType)
	assert.True(t, got.Terms.PenaltyValue.Equal(mustDecimal("5")))
}

func TestRecordCreditPurchase_Installments(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	at := jan(1)

	res, err := e.purchases.RecordCreditPurchase(e.ctx, &PurchaseRequest{
		MemberID: m.ID, Amount: money.MustParse("100"), RelatedPurchaseID: "SALE-3",
		Installments: 3, OccurredAt: &at,
	})
	require.NoError(t, err)

	require.Len(t, res.Schedules, 3)
	assert.Equal(t, money.MustParse("33.34"), res.Schedules[0].Amount)
	assert.Equal(t, money.MustParse("33.33"), res.Schedules[1].Amount)
	assert.Equal(t, money.MustParse("33.33"), res.Schedules[2].Amount)
	assert.Equal(t, jan(31), res.Schedules[0].DueDate)
	assert.Equal(t, at.AddDate(0, 0, 90), res.Schedules[2].DueDate)
	for i, row := range res.Schedules {
		assert.Equal(t, i+1, row.InstallmentNo)
		assert.Equal(t, model.ScheduleStatusPending, row.Status)
		require.NotNil(t, row.LedgerEntryID)
		assert.Equal(t, res.Entry.ID, *row.LedgerEntryID)
	}
}

func TestRecordCreditPurchase_Validation(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	future := e.clock.Now().AddDate(0, 0, 1)

	cases := map[string]*PurchaseRequest{
		"amount":       {MemberID: m.ID, Amount: 0, RelatedPurchaseID: "X"},
		"purchase id":  {MemberID: m.ID, Amount: 100, RelatedPurchaseID: "  "},
		"installments": {MemberID: m.ID, Amount: 2, RelatedPurchaseID: "X", Installments: 3},
		"terms":        {MemberID: m.ID, Amount: 100, RelatedPurchaseID: "X", Terms: &model.CreditTerms{PenaltyType: "weekly"}},
		"future":       {MemberID: m.ID, Amount: 100, RelatedPurchaseID: "X", OccurredAt: &future},
	}
	for name, req := range cases {
		_, err := e.purchases.RecordCreditPurchase(e.ctx, req)
		assert.ErrorIs(t, err, ErrValidation, name)
	}

	_, err := e.purchases.RecordCreditPurchase(e.ctx, &PurchaseRequest{MemberID: 777, Amount: 100, RelatedPurchaseID: "X"})
	assert.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestPostAdjustment(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	d := e.purchase(m.ID, "20", jan(1))

	res, err := e.purchases.PostAdjustment(e.ctx, &AdjustmentRequest{
		MemberID: m.ID, Amount: money.MustParse("3.25"), Notes: "short-rung scale", ParentEntryID: &d.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EntryKindDebitAdjustment, res.Entry.Kind)
	assert.Equal(t, money.MustParse("23.25"), res.NewBalance)
	assert.Equal(t, money.MustParse("23.25"), e.requireConserved(m.ID))

	_, err = e.purchases.PostAdjustment(e.ctx, &AdjustmentRequest{MemberID: m.ID, Amount: 100, Notes: " "})
	assert.ErrorIs(t, err, ErrValidation)

	other := e.member()
	_, err = e.purchases.PostAdjustment(e.ctx, &AdjustmentRequest{MemberID: other.ID, Amount: 100, Notes: "x", ParentEntryID: &d.ID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuildInstallments_UsesDueDaysAsInterval(t *testing.T) {
	entry := &model.LedgerEntry{
		ID: 7, MemberID: 1, Amount: money.MustParse("10"), OccurredAt: jan(1),
		Terms: model.CreditTerms{DueDays: 14, PenaltyType: model.PenaltyTypeFixed, PenaltyValue: mustDecimal("1")},
	}
	rows := buildInstallments(entry, 2, 30)
	require.Len(t, rows, 2)
	assert.Equal(t, jan(15), rows[0].DueDate)
	assert.Equal(t, jan(29), rows[1].DueDate)
	assert.Equal(t, money.MustParse("5"), rows[1].Amount)
}
