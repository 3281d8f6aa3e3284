package model

import "errors"

// 业务错误分类
// Full/Expired/RateLimited属于预期业务结果，调用方不应重试；
// Contention可有限次重试；StoreUnavailable需向上透出做降级
var (
	ErrInvalidPayload   = errors.New("invalid order payload")       // 请求载荷非法，调用方错误
	ErrNotFound         = errors.New("record not found")            // 团或商品不存在
	ErrGroupFull        = errors.New("group is full")               // 团已满员，终态
	ErrGroupExpired     = errors.New("group is expired")            // 团已过期，终态
	ErrAlreadyJoined    = errors.New("user already joined group")   // 用户已在团内，幂等拒绝
	ErrRateLimited      = errors.New("action rate limited")         // 操作过于频繁，窗口后可重试
	ErrContention       = errors.New("concurrent update contention") // 乐观锁竞争，有限次重试后透出
	ErrStoreUnavailable = errors.New("backing store unavailable")   // 底层存储不可用
)
