package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
)

func TestTransactionManager(t *testing.T) {
	sink, err := logs.NewFileSink(t.TempDir(), logs.CompressionNone)
	require.NoError(t, err)
	defer sink.Close()

	tm := NewTransactionManager(sink)
	defer tm.Close()

	t.Run("基本事务操作", func(t *testing.T) {
		trx := tm.Begin()
		assert.Equal(t, TRX_STATE_ACTIVE, trx.State)
		assert.GreaterOrEqual(t, uint32(trx.ID()), uint32(basic.FirstNormalTransactionID))
		assert.NotNil(t, tm.GetTransaction(trx.ID()))

		assert.Equal(t, basic.CommandID(0), trx.CommandID())
		trx.CommandCounterIncrement()
		assert.Equal(t, basic.CommandID(1), trx.CommandID())

		ran, ended := false, false
		trx.RegisterCleanup("never", func() error { ran = true; return nil })
		trx.RegisterEndAction("unlock", func() { ended = true })
		require.NoError(t, tm.Commit(context.Background(), trx))
		assert.Equal(t, TRX_STATE_COMMITTED, trx.State)
		assert.False(t, ran, "cleanups only run on rollback")
		assert.True(t, ended)
		assert.Nil(t, tm.GetTransaction(trx.ID()))

		assert.Equal(t, ErrInvalidTrxState, tm.Commit(context.Background(), trx))
	})

	t.Run("事务回滚", func(t *testing.T) {
		trx := tm.Begin()
		var order []string
		trx.RegisterEndAction("unlock", func() { order = append(order, "unlock") })
		trx.RegisterCleanup("first", func() error { order = append(order, "first"); return nil })
		trx.RegisterCleanup("second", func() error { order = append(order, "second"); return nil })

		require.NoError(t, tm.Rollback(trx))
		assert.Equal(t, TRX_STATE_ROLLED_BACK, trx.State)
		assert.Equal(t, []string{"second", "first", "unlock"}, order)
		assert.Equal(t, ErrInvalidTrxState, tm.Rollback(trx))
	})

	t.Run("清理失败", func(t *testing.T) {
		trx := tm.Begin()
		var order []string
		trx.RegisterEndAction("unlock", func() { order = append(order, "unlock") })
		trx.RegisterCleanup("truncate", func() error { order = append(order, "truncate"); return nil })
		trx.RegisterCleanup("reindex", func() error { return errors.New("reindex events_id failed") })

		err := tm.Rollback(trx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reindex events_id failed")
		assert.Equal(t, []string{"truncate", "unlock"}, order, "later cleanups and end actions still run")
		assert.Equal(t, TRX_STATE_ROLLED_BACK, trx.State)
	})

	t.Run("事务ID递增", func(t *testing.T) {
		a, b := tm.Begin(), tm.Begin()
		assert.Equal(t, a.ID()+1, b.ID())
		tm.Close()
		assert.Nil(t, tm.GetTransaction(a.ID()))
		assert.Equal(t, TRX_STATE_ROLLED_BACK, b.State)
	})

	t.Run("提交被取消", func(t *testing.T) {
		trx := tm.Begin()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, context.Canceled, tm.Commit(ctx, trx))
		assert.Equal(t, TRX_STATE_ACTIVE, trx.State)
		require.NoError(t, tm.Rollback(trx))
	})
}
