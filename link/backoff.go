package link

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second

	jitterMin = time.Millisecond
	jitterMax = 500 * time.Millisecond
)

// Backoff 计算重连等待时间：0、1s 起倍增，达到 30s 后在 [30s, 60s) 内随机。
type Backoff struct {
	mu  sync.Mutex
	cur time.Duration
	rnd *rand.Rand
}

// NewBackoff 创建退避计算器；rnd 为 nil 时使用随机种子。
func NewBackoff(rnd *rand.Rand) *Backoff {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Backoff{rnd: rnd}
}

// Next 返回本次连接前的等待时间，并推进到下一次的值。
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.cur
	switch {
	case d <= 0:
		b.cur = backoffBase
	case d < backoffCap:
		b.cur = d * 2
	default:
		b.cur = backoffCap + time.Duration(b.rnd.Int64N(int64(backoffCap)))
	}
	return d
}

// Reset 清零，下一次连接无需等待。
func (b *Backoff) Reset() { b.Set(0) }

// Set 指定下一次连接前的固定等待时间。
func (b *Backoff) Set(d time.Duration) {
	b.mu.Lock()
	b.cur = d
	b.mu.Unlock()
}

// Peek 返回下一次 Next 将给出的等待时间。
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Jitter 返回 [1ms, 500ms] 内的随机抖动。
func (b *Backoff) Jitter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return jitterMin + time.Duration(b.rnd.Int64N(int64(jitterMax-jitterMin)+1))
}
