package tx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournalUndoRunsInReverse(t *testing.T) {
	ctx, j := WithJournal(context.Background())

	var order []int
	OnRollback(ctx, func() { order = append(order, 1) })
	OnRollback(ctx, func() { order = append(order, 2) })
	j.Undo()

	assert.Equal(t, []int{2, 1}, order)

	j.Undo()
	assert.Equal(t, []int{2, 1}, order, "undo is one-shot")
}

func TestOnRollbackWithoutJournal(t *testing.T) {
	called := false
	OnRollback(context.Background(), func() { called = true })
	assert.False(t, called)
}

func TestFromWithoutTx(t *testing.T) {
	_, ok := From(WithTx(context.Background(), nil))
	assert.False(t, ok)
}
