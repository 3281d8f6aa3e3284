package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"groupbuy_system/model"
	"groupbuy_system/repository"
)

// 互动计数相关常量
const (
	viewDedupTTL = 25 * time.Hour // 浏览去重标记有效期，比一天多1小时以吸收时钟偏差

	ActionLove   = "userlove"   // 收藏切换动作名
	ActionCreate = "usercreate" // 开团动作名
	ActionJoin   = "userjoin"   // 参团动作名

	loveWindowSeconds = 60 // 收藏限流窗口（秒）
	loveMaxCount      = 30 // 收藏限流窗口内最大次数
)

// EngagementStore 互动计数所需的KV存储原语
type EngagementStore interface {
	ZIncrBy(key string, increment float64, member string) (float64, error)
	ZScore(key, member string) (float64, error)
	HGet(key, field string) (string, error)
	HExists(key, field string) (bool, error)
	HKeys(key string) ([]string, error)
	HLen(key string) (int64, error)
	SetNX(key, value string, ttl time.Duration) (bool, error)
	ActionRateLimit(userId int64, action string, windowSeconds, maxCount int64) (bool, error)
	ToggleLoveMember(goodsId, userId int64, summaryJSON string) (bool, error)
}

// EngagementHandler 商品互动计数业务处理器
// 基于共享KV存储实现去重浏览计数、收藏集合与动作限流
type EngagementHandler struct {
	store EngagementStore // KV存储客户端
}

// NewEngagementHandler 创建互动计数处理器实例
func NewEngagementHandler() *EngagementHandler {
	return &EngagementHandler{
		store: repository.NewRedisRepository(),
	}
}

// RecordView 记录一次商品浏览并返回当前浏览量
// 同一用户同一商品一天内多次浏览只计一次；未认证调用（userId<=0）不计数。
// 去重依赖SetNX条件写：并发下只有标记写入成功的那次才递增计数
func (h *EngagementHandler) RecordView(goodsId, userId int64) (int64, error) {
	member := strconv.FormatInt(goodsId, 10)

	if userId <= 0 {
		// 未认证调用只读不计
		score, err := h.store.ZScore(repository.KeyViewCountZSet, member)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		return int64(score), nil
	}

	marked, err := h.store.SetNX(repository.ViewDedupKey(userId, goodsId), "1", viewDedupTTL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	if !marked {
		// 去重标记已存在，返回当前计数不递增
		score, err := h.store.ZScore(repository.KeyViewCountZSet, member)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		return int64(score), nil
	}

	score, err := h.store.ZIncrBy(repository.KeyViewCountZSet, 1, member)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	slog.Info("Goods view recorded",
		"goods_id", goodsId,
		"user_id", userId,
		"view_count", int64(score),
	)
	return int64(score), nil
}

// ToggleLove 原子切换用户对商品的收藏状态
// 受"userlove"动作限流保护，被限流时不改变集合状态；
// 返回切换后是否为收藏状态
func (h *EngagementHandler) ToggleLove(goodsId, userId int64, summary model.UserSummary) (bool, error) {
	allowed, err := h.store.ActionRateLimit(userId, ActionLove, loveWindowSeconds, loveMaxCount)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	if !allowed {
		slog.Info("Love toggle rejected by rate limiter",
			"goods_id", goodsId,
			"user_id", userId,
		)
		return false, model.ErrRateLimited
	}

	jsonData, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("marshal user summary failed: %v", err)
	}

	loved, err := h.store.ToggleLoveMember(goodsId, userId, string(jsonData))
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return loved, nil
}

// IsActionAllowed 动作限流检查（桶式滑动窗口）
// 放行时计数，拒绝时不计数；桶边界处最坏允许2倍maxCount，见限流脚本说明
func (h *EngagementHandler) IsActionAllowed(userId int64, action string, windowSeconds, maxCount int64) (bool, error) {
	allowed, err := h.store.ActionRateLimit(userId, action, windowSeconds, maxCount)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return allowed, nil
}

// GetCounts 读取商品的浏览量与收藏人数，只读不改状态
func (h *EngagementHandler) GetCounts(goodsId int64) (model.GoodsCounts, error) {
	score, err := h.store.ZScore(repository.KeyViewCountZSet, strconv.FormatInt(goodsId, 10))
	if err != nil {
		return model.GoodsCounts{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	loveCount, err := h.store.HLen(repository.LoveKey(goodsId))
	if err != nil {
		return model.GoodsCounts{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	return model.GoodsCounts{
		ViewCount: int64(score),
		LoveCount: loveCount,
	}, nil
}

// GetLoveMembers 读取商品的收藏用户摘要列表
func (h *EngagementHandler) GetLoveMembers(goodsId int64) ([]model.UserSummary, error) {
	key := repository.LoveKey(goodsId)
	fields, err := h.store.HKeys(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	members := make([]model.UserSummary, 0, len(fields))
	for _, field := range fields {
		data, err := h.store.HGet(key, field)
		if err != nil {
			// 读取单个成员失败只跳过，不中断整个列表
			slog.Warn("Failed to read love member",
				"goods_id", goodsId,
				"field", field,
				"error", err,
			)
			continue
		}

		var summary model.UserSummary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			slog.Warn("Failed to unmarshal love member summary",
				"goods_id", goodsId,
				"field", field,
				"error", err,
			)
			continue
		}
		members = append(members, summary)
	}
	return members, nil
}

// IsLoved 判断用户是否已收藏商品
func (h *EngagementHandler) IsLoved(goodsId, userId int64) (bool, error) {
	loved, err := h.store.HExists(repository.LoveKey(goodsId), strconv.FormatInt(userId, 10))
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return loved, nil
}
