package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/circulation-engine/ledger"
	"github.com/shelfwise/circulation-engine/ledger/store"
)

func TestTryReserve_DecrementsOnce(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 2)
	rec := ledger.NewReconciler(mem)
	ctx := context.Background()

	res, err := rec.TryReserve(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.BookID("book-1"), res.BookID())

	book, err := mem.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 1, book.AvailableCopies)
}

func TestTryReserve_NoCapacity(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 0)
	rec := ledger.NewReconciler(mem)

	_, err := rec.TryReserve(context.Background(), "book-1")
	assert.ErrorIs(t, err, ledger.ErrCapacityExhausted)
}

func TestReservation_ReleaseRestoresAvailability(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 1)
	rec := ledger.NewReconciler(mem)
	ctx := context.Background()

	res, err := rec.TryReserve(ctx, "book-1")
	require.NoError(t, err)

	require.NoError(t, res.Release(ctx))

	book, err := mem.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 1, book.AvailableCopies)
}

func TestReservation_ReleaseIsSingleShot(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 1)
	rec := ledger.NewReconciler(mem)
	ctx := context.Background()

	res, err := rec.TryReserve(ctx, "book-1")
	require.NoError(t, err)

	require.NoError(t, res.Release(ctx))
	require.NoError(t, res.Release(ctx), "second release is a no-op")

	book, err := mem.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 1, book.AvailableCopies, "released exactly once")
}

func TestReservation_ReleaseAfterRedeemIsNoop(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 1)
	rec := ledger.NewReconciler(mem)
	ctx := context.Background()

	res, err := rec.TryReserve(ctx, "book-1")
	require.NoError(t, err)

	res.Redeem()
	require.NoError(t, res.Release(ctx))

	book, err := mem.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, 0, book.AvailableCopies, "redeemed copy stays checked out")
}

func TestRelease_AtFullCapacity_InvariantViolation(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 1)
	rec := ledger.NewReconciler(mem)

	err := rec.Release(context.Background(), "book-1")
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation,
		"releasing beyond totalCopies is a defect, not a silent clamp")
}

func TestAudit_Consistent(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 3)
	rec := ledger.NewReconciler(mem)

	assert.NoError(t, rec.Audit(context.Background(), "book-1"))
}

func TestAudit_DetectsCorruptedCounter(t *testing.T) {
	mem := store.NewMemory()
	seedBook(t, mem, "book-1", 3)
	ctx := context.Background()

	// Corrupt the counter: two reserves with no loan records behind them
	// leave 1 available against 0 open loans.
	require.NoError(t, mem.ReserveCopy(ctx, "book-1"))
	require.NoError(t, mem.ReserveCopy(ctx, "book-1"))

	err := ledger.NewReconciler(mem).Audit(ctx, "book-1")
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)

	var violation *ledger.InvariantViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, ledger.BookID("book-1"), violation.BookID)
	assert.Equal(t, 3, violation.Total)
	assert.Equal(t, 1, violation.Available)
	assert.Equal(t, 0, violation.OpenLoans)
}

func TestAudit_UnknownBook(t *testing.T) {
	rec := ledger.NewReconciler(store.NewMemory())

	err := rec.Audit(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrBookNotFound)
}
