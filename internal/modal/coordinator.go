// Package modal はサインイン・サインアップのオーバーレイの表示状態とフォームを管理する。
package modal

import "sync"

// Coordinator はサインインモーダルの表示状態（open/closed）を保持する。
// 認証が必要な操作はどこからでもOpenを呼べる。Open・Closeはいずれも冪等で、
// 状態が変化した場合のみ登録済みの関数に通知する。
type Coordinator struct {
	// transitionMu は状態変更と通知を直列化する。
	transitionMu sync.Mutex

	mu     sync.Mutex
	open   bool
	nextID int
	hooks  map[int]func(open bool)
	order  []int
}

// NewCoordinator は閉じた状態のCoordinatorを生成する。
func NewCoordinator() *Coordinator {
	return &Coordinator{hooks: make(map[int]func(open bool))}
}

// Open はモーダルを開く。すでに開いている場合は何もしない。
func (c *Coordinator) Open() {
	c.transition(true)
}

// Close はモーダルを閉じる。すでに閉じている場合は何もしない。
func (c *Coordinator) Close() {
	c.transition(false)
}

// IsOpen はモーダルが開いているかどうかを返す。
func (c *Coordinator) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// OnTransition は状態が変化するたびに呼ばれる関数を登録し、登録解除関数を返す。
func (c *Coordinator) OnTransition(fn func(open bool)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.hooks[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.hooks, id)
			for i, v := range c.order {
				if v == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Coordinator) transition(open bool) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	if c.open == open {
		c.mu.Unlock()
		return
	}
	c.open = open
	hooks := make([]func(bool), 0, len(c.order))
	for _, id := range c.order {
		hooks = append(hooks, c.hooks[id])
	}
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(open)
	}
}
