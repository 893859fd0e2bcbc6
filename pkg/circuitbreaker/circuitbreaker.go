package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen 熔断器打开时直接返回的错误
var ErrOpen = errors.New("circuit breaker is open")

// State 表示熔断器状态
type State int

const (
	StateClosed   State = iota // 关闭：正常状态，允许请求通过
	StateOpen                  // 打开：熔断状态，直接拒绝请求
	StateHalfOpen              // 半开：尝试恢复，允许少量请求通过
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// 连续失败多少次后打开熔断器
	FailureThreshold int
	// 半开状态下成功多少次后关闭熔断器
	SuccessThreshold int
	// 打开状态持续多久后进入半开状态
	Timeout time.Duration
	// 半开状态下的最大并发请求数
	HalfOpenMaxRequests int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	halfOpenCount int
	openedAt      time.Time
}

// NewCircuitBreaker 创建新的熔断器
func NewCircuitBreaker(config Config) *CircuitBreaker {
	return &CircuitBreaker{config: config, now: time.Now}
}

// WithClock 替换时钟（测试用）
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Execute 执行函数，带熔断保护
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

// before 判断当前是否允许请求通过
func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
		cb.successCount = 0
	}

	switch cb.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrOpen
		}
		cb.halfOpenCount++
	}
	return nil
}

// onFailure 处理失败
func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateHalfOpen:
		// 半开状态下失败，立即打开
		cb.trip()
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.trip()
		}
	}
}

// onSuccess 处理成功
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenCount--
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenCount = 0
	cb.successCount = 0
}

// GetState 获取当前状态（线程安全）
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCount = 0
}
