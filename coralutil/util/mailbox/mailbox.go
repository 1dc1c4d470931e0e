// Package mailbox provides a tiny synchronized value cell which allows
// readers to block until the stored value satisfies a predicate.
package mailbox

import (
	"context"
	"sync"
)

type Mailbox[T any] struct {
	m        sync.Mutex
	val      T
	waitChan chan struct{}
}

func NewMailbox[T any](initialVal T) Mailbox[T] {
	return Mailbox[T]{
		val:      initialVal,
		waitChan: make(chan struct{}),
	}
}

func (mb *Mailbox[T]) Load() T {
	mb.m.Lock()
	t := mb.val
	mb.m.Unlock()
	return t
}

func (mb *Mailbox[T]) Store(t T) {
	mb.m.Lock()
	mb.val = t
	close(mb.waitChan)
	mb.waitChan = make(chan struct{})
	mb.m.Unlock()
}

// AwaitTrue blocks until f returns true for the stored value and then
// returns that value.
func (mb *Mailbox[T]) AwaitTrue(f func(t T) bool) T {
	for {
		mb.m.Lock()
		ch := mb.waitChan
		if f(mb.val) {
			t := mb.val
			mb.m.Unlock()
			return t
		}
		mb.m.Unlock()
		<-ch
	}
}

// AwaitTrueCtx is AwaitTrue but gives up when ctx is cancelled, in which
// case ok is false and the returned value is whatever was last stored.
func (mb *Mailbox[T]) AwaitTrueCtx(ctx context.Context, f func(t T) bool) (T, bool) {
	for {
		mb.m.Lock()
		ch := mb.waitChan
		if f(mb.val) {
			t := mb.val
			mb.m.Unlock()
			return t, true
		}
		mb.m.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return mb.Load(), false
		}
	}
}

// AwaitUpdate blocks until the next Store and returns the new value.
func (mb *Mailbox[T]) AwaitUpdate() T {
	mb.m.Lock()
	ch := mb.waitChan
	mb.m.Unlock()
	<-ch
	mb.m.Lock()
	t := mb.val
	mb.m.Unlock()
	return t
}
