package service

import (
	"sort"

	"coopcredit/internal/model"
	"coopcredit/pkg/money"
)

// fifoLine is the planned effect of one credit on one debit.
type fifoLine struct {
	Entry     *model.LedgerEntry
	Amount    money.Cents
	NewPaid   money.Cents
	NewStatus model.EntryStatus
}

// sortFIFO orders debits oldest first by (OccurredAt, ID).
func sortFIFO(debits []*model.LedgerEntry) {
	sort.SliceStable(debits, func(i, j int) bool {
		a, b := debits[i], debits[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.ID < b.ID
	})
}

// planFIFO walks the debits oldest first and applies amount to each unpaid
// remainder until it is used up. It returns the lines to write and whatever
// could not be placed; a non-zero remainder means the debits ran out.
func planFIFO(debits []*model.LedgerEntry, amount money.Cents) ([]fifoLine, money.Cents) {
	ordered := make([]*model.LedgerEntry, len(debits))
	copy(ordered, debits)
	sortFIFO(ordered)

	remaining := amount
	lines := make([]fifoLine, 0, len(ordered))
	for _, entry := range ordered {
		if remaining <= 0 {
			break
		}
		open := entry.Outstanding()
		if open <= 0 {
			continue
		}

		applied := money.Min(remaining, open)
		newPaid := entry.PaidAmount + applied
		lines = append(lines, fifoLine{
			Entry:     entry,
			Amount:    applied,
			NewPaid:   newPaid,
			NewStatus: model.DeriveStatus(entry.Amount, newPaid),
		})
		remaining -= applied
	}
	return lines, remaining
}
