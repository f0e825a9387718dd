// Package retry 为元数据请求和资产下载提供统一的重试与退避策略。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/apk-analysis/toolsetup/internal/config"
	"github.com/sirupsen/logrus"
)

// Strategy 重试策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // 固定间隔
	StrategyLinear      Strategy = "linear"      // 线性递增
	StrategyExponential Strategy = "exponential" // 指数退避
)

// Config 重试配置
type Config struct {
	MaxAttempts     int           // 最大尝试次数
	InitialInterval time.Duration // 初始间隔
	MaxInterval     time.Duration // 最大间隔
	Multiplier      float64       // 指数退避的倍数，<= 1 时按 2 处理
	Strategy        Strategy      // 重试策略
	Timeout         time.Duration // 总超时时间，0 表示只受调用方上下文约束
	Logger          *logrus.Logger

	// Limit 按错误类型收紧尝试次数，返回 0 表示不限制
	Limit func(err error) int
	// OnRetry 每次决定重试前调用
	OnRetry func(attempt int, err error)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Strategy:        StrategyExponential,
		Logger:          logrus.New(),
	}
}

// FromConfig 由配置文件的 retry 段构造
func FromConfig(cfg *config.RetryConfig, logger *logrus.Logger) *Config {
	c := DefaultConfig()
	if cfg.MaxAttempts > 0 {
		c.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		c.InitialInterval = time.Duration(cfg.InitialInterval) * time.Millisecond
	}
	if cfg.MaxInterval > 0 {
		c.MaxInterval = time.Duration(cfg.MaxInterval) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		c.Multiplier = cfg.Multiplier
	}
	if logger != nil {
		c.Logger = logger
	}
	return c
}

// RetryableError 可重试错误接口
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryableError 实现可重试错误
type retryableError struct {
	error
	retryable bool
}

func (e *retryableError) IsRetryable() bool {
	return e.retryable
}

func (e *retryableError) Unwrap() error {
	return e.error
}

// NewRetryableError 创建可重试错误
func NewRetryableError(err error) error {
	return &retryableError{
		error:     err,
		retryable: true,
	}
}

// NewNonRetryableError 创建不可重试错误
func NewNonRetryableError(err error) error {
	return &retryableError{
		error:     err,
		retryable: false,
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// 检查是否实现了 RetryableError 接口
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return false // 用户取消，不重试
	case errors.Is(err, context.DeadlineExceeded):
		return false // 超时，不重试
	case errors.As(err, &netErr):
		return true // 连接被重置、DNS 失败等
	default:
		return false
	}
}

// Func 可重试的函数类型
type Func func(ctx context.Context) error

// Do 执行带重试的操作
func Do(ctx context.Context, config *Config, fn Func) error {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// 创建超时上下文
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var lastErr error
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// 检查上下文是否已取消
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("retry canceled after %d attempts: %w", attempt-1, lastErr)
			}
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		default:
		}

		startTime := time.Now()
		err := fn(ctx)
		duration := time.Since(startTime)

		if err == nil {
			if attempt > 1 {
				logger.WithFields(logrus.Fields{
					"attempt":  attempt,
					"duration": duration,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"max":      maxAttempts,
			"duration": duration,
			"error":    err.Error(),
		}).Debug("Operation failed")

		if !IsRetryable(err) {
			return err
		}

		// 按错误类型收紧次数，例如完整性失败只允许一次全新的下载
		if config.Limit != nil {
			if limit := config.Limit(err); limit > 0 && attempt >= limit {
				return err
			}
		}

		// 最后一次尝试，不再等待
		if attempt >= maxAttempts {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		interval := calculateNextInterval(config.Strategy, config.Multiplier, config.InitialInterval, config.MaxInterval, attempt)

		logger.WithFields(logrus.Fields{
			"next_attempt": attempt + 1,
			"wait":         interval,
			"error":        err.Error(),
		}).Warn("Retrying after transient failure")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry canceled during wait: %w", lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", maxAttempts, lastErr)
}

// calculateNextInterval 计算第 attempt 次失败后的等待间隔
func calculateNextInterval(strategy Strategy, multiplier float64, initial, max time.Duration, attempt int) time.Duration {
	var next time.Duration

	switch strategy {
	case StrategyLinear:
		// 线性递增: initial * attempt
		next = initial * time.Duration(attempt)

	case StrategyExponential:
		// 指数退避: initial * multiplier^(attempt-1)
		if multiplier <= 1 {
			multiplier = 2
		}
		next = time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt-1)))

	default:
		next = initial
	}

	// 限制最大间隔
	if max > 0 && (next > max || next < 0) {
		next = max
	}

	return next
}

// DoWithResult 执行带重试的操作（返回结果）
func DoWithResult[T any](ctx context.Context, config *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := Do(ctx, config, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	return result, err
}
