package service

import (
	"testing"

	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberService_Create(t *testing.T) {
	e := newEnv(t)

	m, err := e.members.Create(e.ctx, &CreateMemberRequest{MemberNo: " C-001 ", Name: "Ana", CreditLimit: money.MustParse("250")})
	require.NoError(t, err)
	assert.Equal(t, "C-001", m.MemberNo)
	assert.Equal(t, money.Zero, m.CreditBalance)

	_, err = e.members.Create(e.ctx, &CreateMemberRequest{MemberNo: "C-001", Name: "Dup"})
	assert.ErrorIs(t, err, repository.ErrDuplicateMemberNo)

	_, err = e.members.Create(e.ctx, &CreateMemberRequest{MemberNo: "C-002", Name: "Neg", CreditLimit: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemberService_SetCreditLimit(t *testing.T) {
	e := newEnv(t)
	m := e.member()

	got, err := e.members.SetCreditLimit(e.ctx, m.ID, money.MustParse("20"))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("20"), got.CreditLimit)

	_, err = e.members.SetCreditLimit(e.ctx, 999, 1)
	assert.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestMemberService_Statement(t *testing.T) {
	e := newEnv(t)
	m := e.member()
	for day := 1; day <= 3; day++ {
		e.purchase(m.ID, "10", jan(day))
	}

	st, err := e.members.Statement(e.ctx, m.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, 1, st.Page)
	assert.Equal(t, 20, st.PageSize)
	require.Len(t, st.Entries, 3)
	assert.Equal(t, jan(3), st.Entries[0].OccurredAt.UTC())
}
