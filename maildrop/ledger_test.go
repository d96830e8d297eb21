package maildrop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerMarkIsIdempotent(t *testing.T) {
	var l Ledger
	l.Mark(7)
	l.Mark(7)
	l.Mark(9)
	assert.Equal(t, 2, l.Len())

	ids := l.Drain()
	assert.ElementsMatch(t, []int64{7, 9}, ids)
	assert.Equal(t, 0, l.Len())
}

func TestLedgerReset(t *testing.T) {
	var l Ledger
	l.Reset() // no-op on empty ledger

	l.Mark(1)
	l.Reset()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Drain())
}
