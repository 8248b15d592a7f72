package pool

import (
	"sync/atomic"

	"github.com/dep2p/go-netbridge/internal/core/session"
)

// Lease 对一个会话的独占使用权
//
// Release 与 Discard 只有第一次调用生效。
type Lease struct {
	pool   *Pool
	key    Key
	entry  *entry
	s      *session.Session
	reused bool
	done   atomic.Bool
}

// Session 返回会话
func (l *Lease) Session() *session.Session { return l.s }

// Key 返回池键
func (l *Lease) Key() Key { return l.key }

// Reused 是否复用了空闲会话
func (l *Lease) Reused() bool { return l.reused }

// Read 读取会话
func (l *Lease) Read(p []byte) (int, error) { return l.s.Read(p) }

// Write 写入会话
func (l *Lease) Write(p []byte) (int, error) { return l.s.Write(p) }

// Release 归还会话供复用
func (l *Lease) Release() {
	if !l.done.CompareAndSwap(false, true) {
		return
	}
	l.pool.release(l.entry, l.s)
}

// Discard 关闭会话，不再复用
func (l *Lease) Discard() error {
	if !l.done.CompareAndSwap(false, true) {
		return nil
	}
	l.pool.unlease(l.entry)
	return l.s.Close()
}
