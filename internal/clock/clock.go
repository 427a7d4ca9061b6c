package clock

import (
	"sync"
	"time"
)

// Clock 注入到 service / repository 的時間來源，測試時可以固定或推進
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem 以 time.Now 為時間來源
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual 手動控制的時鐘，用來模擬活動結束、票券過期
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set 設定目前時間
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance 推進時間
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
