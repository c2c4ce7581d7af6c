package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
)

var (
	ErrInvalidTrxState = errors.New("invalid transaction state")
)

// 事务状态
const (
	TRX_STATE_NOT_STARTED uint8 = iota
	TRX_STATE_ACTIVE
	TRX_STATE_COMMITTED
	TRX_STATE_ROLLED_BACK
)

type cleanupFunc struct {
	name string
	fn   func() error
}

type endAction struct {
	name string
	fn   func()
}

// Transaction 表示一个事务
type Transaction struct {
	mu        sync.Mutex
	id        basic.TransactionID
	cid       basic.CommandID
	State     uint8     // 事务状态
	StartTime time.Time // 开始时间
	cleanups  []cleanupFunc
	ends      []endAction
}

var _ basic.Transaction = (*Transaction)(nil)

func (trx *Transaction) ID() basic.TransactionID {
	return trx.id
}

// CommandID 当前命令号
func (trx *Transaction) CommandID() basic.CommandID {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	return trx.cid
}

// CommandCounterIncrement 推进命令号, 使之前的修改对后续命令可见
func (trx *Transaction) CommandCounterIncrement() {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	trx.cid++
}

// RegisterCleanup registers fn to run if the transaction rolls back.
// Cleanups run in reverse registration order.
func (trx *Transaction) RegisterCleanup(name string, fn func() error) {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	trx.cleanups = append(trx.cleanups, cleanupFunc{name: name, fn: fn})
}

// RegisterEndAction registers fn to run when the transaction ends either
// way. Table locks taken by a statement are released here.
func (trx *Transaction) RegisterEndAction(name string, fn func()) {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	trx.ends = append(trx.ends, endAction{name: name, fn: fn})
}

// runEndActions 逆序执行结束动作, 调用时不持有任何锁
func (trx *Transaction) runEndActions(ends []endAction) {
	for i := len(ends) - 1; i >= 0; i-- {
		logger.Debugf("transaction %d: running end action %s", trx.id, ends[i].name)
		ends[i].fn()
	}
}

// TransactionManager 事务管理器
type TransactionManager struct {
	mu                 sync.RWMutex
	nextTrxID          basic.TransactionID                  // 下一个事务ID
	activeTransactions map[basic.TransactionID]*Transaction // 活跃事务
	wal                logs.FlushSink
}

// NewTransactionManager 创建事务管理器, wal可以为nil
func NewTransactionManager(wal logs.FlushSink) *TransactionManager {
	return &TransactionManager{
		nextTrxID:          basic.FirstNormalTransactionID,
		activeTransactions: make(map[basic.TransactionID]*Transaction),
		wal:                wal,
	}
}

// Begin 开始新事务
func (tm *TransactionManager) Begin() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	trx := &Transaction{
		id:        tm.nextTrxID,
		State:     TRX_STATE_ACTIVE,
		StartTime: time.Now(),
	}
	tm.nextTrxID++
	if tm.nextTrxID < basic.FirstNormalTransactionID {
		tm.nextTrxID = basic.FirstNormalTransactionID
	}
	tm.activeTransactions[trx.id] = trx
	return trx
}

// Commit flushes the WAL, forgets the rollback cleanups and runs the end
// actions. A failed commit leaves the transaction active.
func (tm *TransactionManager) Commit(ctx context.Context, trx *Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ends, err := tm.commit(trx)
	if err != nil {
		return err
	}
	trx.runEndActions(ends)
	return nil
}

func (tm *TransactionManager) commit(trx *Transaction) ([]endAction, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	trx.mu.Lock()
	defer trx.mu.Unlock()
	if trx.State != TRX_STATE_ACTIVE {
		return nil, ErrInvalidTrxState
	}
	// 确保WAL持久化
	if tm.wal != nil {
		if err := tm.wal.Flush(tm.wal.InsertLSN()); err != nil {
			return nil, err
		}
	}
	trx.State = TRX_STATE_COMMITTED
	ends := trx.ends
	trx.cleanups, trx.ends = nil, nil
	delete(tm.activeTransactions, trx.id)
	return ends, nil
}

// Rollback 回滚事务, 逆序执行已注册的清理函数, 然后执行结束动作.
// 所有清理函数都会执行, 返回它们的错误
func (tm *TransactionManager) Rollback(trx *Transaction) error {
	tm.mu.Lock()
	trx.mu.Lock()
	if trx.State != TRX_STATE_ACTIVE {
		trx.mu.Unlock()
		tm.mu.Unlock()
		return ErrInvalidTrxState
	}
	trx.State = TRX_STATE_ROLLED_BACK
	cleanups, ends := trx.cleanups, trx.ends
	trx.cleanups, trx.ends = nil, nil
	delete(tm.activeTransactions, trx.id)
	trx.mu.Unlock()
	tm.mu.Unlock()

	var group errs.Group
	for i := len(cleanups) - 1; i >= 0; i-- {
		logger.Debugf("transaction %d: running cleanup %s", trx.id, cleanups[i].name)
		if err := cleanups[i].fn(); err != nil {
			logger.Errorf("transaction %d: cleanup %s failed: %v", trx.id, cleanups[i].name, err)
			group.Add(err)
		}
	}
	trx.runEndActions(ends)
	return group.Err()
}

// GetTransaction 获取活跃事务
func (tm *TransactionManager) GetTransaction(id basic.TransactionID) *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeTransactions[id]
}

// Close 回滚所有仍然活跃的事务
func (tm *TransactionManager) Close() {
	tm.mu.RLock()
	active := make([]*Transaction, 0, len(tm.activeTransactions))
	for _, trx := range tm.activeTransactions {
		active = append(active, trx)
	}
	tm.mu.RUnlock()
	for _, trx := range active {
		if err := tm.Rollback(trx); err != nil {
			logger.Warnf("rollback transaction %d: %v", trx.id, err)
		}
	}
}
