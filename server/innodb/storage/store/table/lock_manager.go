package table

import (
	"context"
	"sync"
)

// LockMode 表锁模式
type LockMode int

const (
	NoLock LockMode = iota
	AccessShareLock
	AccessExclusiveLock
)

func (m LockMode) String() string {
	switch m {
	case AccessShareLock:
		return "AccessShareLock"
	case AccessExclusiveLock:
		return "AccessExclusiveLock"
	default:
		return "NoLock"
	}
}

type relLock struct {
	readers int
	writer  bool
	changed chan struct{} // 每次释放时关闭并替换, 唤醒等待者
}

// LockManager 表级锁管理器
type LockManager struct {
	mu    sync.Mutex
	locks map[uint32]*relLock
}

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[uint32]*relLock)}
}

func compatible(l *relLock, mode LockMode) bool {
	switch mode {
	case AccessExclusiveLock:
		return !l.writer && l.readers == 0
	case AccessShareLock:
		return !l.writer
	}
	return true
}

// Acquire blocks until the lock is granted or ctx is done. The returned
// function releases the lock exactly once.
func (lm *LockManager) Acquire(ctx context.Context, relID uint32, mode LockMode) (func(), error) {
	if mode == NoLock {
		return func() {}, nil
	}
	for {
		lm.mu.Lock()
		l, ok := lm.locks[relID]
		if !ok {
			l = &relLock{changed: make(chan struct{})}
			lm.locks[relID] = l
		}
		if compatible(l, mode) {
			if mode == AccessExclusiveLock {
				l.writer = true
			} else {
				l.readers++
			}
			lm.mu.Unlock()
			var once sync.Once
			return func() { once.Do(func() { lm.release(relID, mode) }) }, nil
		}
		wait := l.changed
		lm.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (lm *LockManager) release(relID uint32, mode LockMode) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l := lm.locks[relID]
	if l == nil {
		return
	}
	if mode == AccessExclusiveLock {
		l.writer = false
	} else if l.readers > 0 {
		l.readers--
	}
	close(l.changed)
	l.changed = make(chan struct{})
	if !l.writer && l.readers == 0 {
		delete(lm.locks, relID)
	}
}

// Held 测试用: 返回当前是否有人持有该表的锁
func (lm *LockManager) Held(relID uint32) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.locks[relID]
	return ok
}
