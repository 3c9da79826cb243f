package service

import (
	"testing"
	"time"

	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkOverdue_OnlyPendingPastDue(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	now := e.clock.Now()

	// installments due at now-20, now+10, now+40
	e.purchase(m.ID, "90", now.AddDate(0, 0, -50), withInstallments(3))

	count, err := e.schedules.MarkOverdue(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = e.schedules.MarkOverdue(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "already overdue rows are not counted again")

	rows, err := e.schedules.ListByMember(e.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, model.ScheduleStatusOverdue, rows[0].Status)
	assert.Equal(t, model.ScheduleStatusPending, rows[1].Status)

	// no money moved
	assert.Equal(t, money.MustParse("90"), e.requireConserved(m.ID))
}

func TestMarkOverdue_UnknownMember(t *testing.T) {
	e := newEnv(t)
	_, err := e.schedules.MarkOverdue(e.ctx, 4242)
	assert.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestPaymentsSettleInstallmentsInDueOrder(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	now := e.clock.Now()
	e.purchase(m.ID, "100", now.AddDate(0, 0, -50), withInstallments(3))

	_, err := e.schedules.MarkOverdue(e.ctx, m.ID)
	require.NoError(t, err)

	_, err = e.payments.Allocate(e.ctx, m.ID, money.MustParse("50"), AllocateOptions{})
	require.NoError(t, err)

	rows, err := e.schedules.ListByMember(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPaid, rows[0].Status)
	assert.Equal(t, money.MustParse("33.34"), rows[0].PaidAmount)
	assert.Equal(t, model.ScheduleStatusPending, rows[1].Status)
	assert.Equal(t, money.MustParse("16.66"), rows[1].PaidAmount)
	assert.Equal(t, money.Zero, rows[2].PaidAmount)

	// a paid row is never flipped to overdue
	e.clock.Advance(60 * 24 * time.Hour)
	count, err := e.schedules.MarkAllOverdue(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	rows, err = e.schedules.ListByMember(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusPaid, rows[0].Status)
	assert.Equal(t, model.ScheduleStatusOverdue, rows[1].Status)

	_, err = e.payments.Allocate(e.ctx, m.ID, 0, AllocateOptions{Full: true})
	require.NoError(t, err)
	rows, err = e.schedules.ListByMember(e.ctx, m.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, model.ScheduleStatusPaid, row.Status)
		assert.Equal(t, row.Amount, row.PaidAmount)
	}
}
