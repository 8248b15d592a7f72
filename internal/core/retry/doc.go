// Package retry 监督建连尝试的重试与退避
//
// 规则：
//   - max_retries = N 时恰好尝试 N+1 次
//   - 两次尝试之间指数退避，加入 full jitter，并受 MaxDelay 限制
//   - 致命错误（types.IsFatal）立即返回，不消耗剩余预算
//   - 父 context 取消立即中止
//
// 预算耗尽时返回 ErrConnectionEstablishmentFailed，携带最后一次的原因。
package retry
