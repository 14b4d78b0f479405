// Package keymutex 提供按 key 串行化的互斥锁，用于保护按钱包地址、
// 投票 ID 等维度分片的共享可变状态。
package keymutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex 按 key 懒加载互斥锁，空闲锁在释放后立即回收。
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New 创建 KeyMutex。
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*entry)}
}

// Lock 锁住指定 key，返回对应的解锁函数。
func (k *KeyMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
