package retry

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("retry")

// AttemptFunc 一次完整的建连尝试，attempt 从 1 开始
//
// 返回 *types.Error 时其 Route 字段会被带到最终错误上。
type AttemptFunc func(ctx context.Context, attempt int) error

// Observer 尝试结果观察者
type Observer interface {
	AttemptFailed(err error)
	Exhausted()
}

// Option 监督器选项
type Option func(*Supervisor)

// WithClock 设置时钟（测试用 mock）
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		s.observer = o
	}
}

// Supervisor 重试监督器，无状态，可并发使用
type Supervisor struct {
	policy   Policy
	clock    clock.Clock
	observer Observer
}

// New 创建监督器
func New(policy Policy, opts ...Option) *Supervisor {
	s := &Supervisor{
		policy: policy,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy 返回退避策略
func (s *Supervisor) Policy() Policy {
	return s.policy
}

// Do 执行 fn 直到成功、遇到致命错误、ctx 结束或尝试 maxRetries+1 次
//
// maxRetries 为负时使用策略默认值。target 用于错误上下文。
func (s *Supervisor) Do(ctx context.Context, target string, maxRetries int, fn AttemptFunc) error {
	if maxRetries < 0 {
		maxRetries = s.policy.MaxRetries
	}
	budget := maxRetries + 1

	var (
		last     error
		attempts int
	)
	for attempts < budget {
		attempts++
		err := fn(ctx, attempts)
		if err == nil {
			if attempts > 1 {
				logger.Debug("重试后成功", "target", target, "attempts", attempts)
			}
			return nil
		}
		last = err
		if s.observer != nil {
			s.observer.AttemptFailed(err)
		}

		if types.IsFatal(err) {
			logger.Debug("致命错误，放弃重试", "target", target, "attempt", attempts, "err", err)
			return annotateFatal(err, target, attempts)
		}
		if ctx.Err() != nil || attempts == budget {
			break
		}

		delay := s.policy.Backoff(attempts)
		logger.Debug("建连尝试失败",
			"target", target,
			"attempt", attempts,
			"budget", budget,
			"nextRetry", delay,
			"err", err)
		if err := s.sleep(ctx, delay); err != nil {
			break
		}
	}

	if s.observer != nil {
		s.observer.Exhausted()
	}
	cause := last
	if cerr := ctx.Err(); cerr != nil && !errors.Is(last, cerr) {
		cause = multierr.Combine(cerr, last)
	}
	return &types.Error{
		Kind:     types.ErrConnectionEstablishmentFailed,
		Endpoint: target,
		Route:    routeOf(last),
		Attempts: attempts,
		Err:      cause,
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// annotateFatal 给致命错误补上端点与尝试次数，不改变其分类
func annotateFatal(err error, target string, attempts int) error {
	var e *types.Error
	if errors.As(err, &e) && e.Fatal {
		out := *e
		if out.Endpoint == "" {
			out.Endpoint = target
		}
		out.Attempts = attempts
		return &out
	}
	kind := types.KindOf(err)
	if kind == nil {
		kind = types.ErrInvalidEndpoint
	}
	return &types.Error{Kind: kind, Endpoint: target, Attempts: attempts, Fatal: true, Err: err}
}

func routeOf(err error) string {
	var e *types.Error
	if errors.As(err, &e) {
		return e.Route
	}
	return ""
}
