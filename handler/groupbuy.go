package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"groupbuy_system/model"
	"groupbuy_system/repository"

	"gorm.io/gorm"
)

// 参团并发控制相关常量
const (
	maxJoinRetries   = 3                     // 乐观锁冲突最大重试次数
	joinRetryBackoff = 20 * time.Millisecond // 重试基础退避时长

	createWindowSeconds = 60 // 开团限流窗口（秒）
	createMaxCount      = 10 // 开团限流窗口内最大次数
	joinWindowSeconds   = 60 // 参团限流窗口（秒）
	joinMaxCount        = 30 // 参团限流窗口内最大次数
)

// errVersionConflict 事务内乐观锁冲突哨兵，用于触发回滚后在外层重试
var errVersionConflict = errors.New("group version conflict")

// GroupStore 拼团引擎所需的持久化存储操作
type GroupStore interface {
	GetGroupById(groupId string) (model.GroupInstance, error)
	HasParticipant(groupId string, userId int64) (bool, error)
	ListParticipants(groupId string) ([]model.Participation, error)
	CreateGroupInstance(tx *gorm.DB, group *model.GroupInstance) error
	OccIncrJoinCount(tx *gorm.DB, groupId string, version int64) (int64, error)
	AddParticipation(tx *gorm.DB, participation *model.Participation) error
	AddSimpleOrder(tx *gorm.DB, order *model.SimpleOrder) error
	WithTransaction(fn func(tx *gorm.DB) error) error
}

// TemplateStore 拼团模板查询操作
type TemplateStore interface {
	FindTemplateById(templateId int64) (model.GroupBuyTemplate, error)
}

// RateLimiter 动作限流检查
type RateLimiter interface {
	IsActionAllowed(userId int64, action string, windowSeconds, maxCount int64) (bool, error)
}

// EventPublisher 团事件发布
type EventPublisher interface {
	SendGroupEventMessage(ctx context.Context, event *model.GroupEventMessage) error
}

// GroupBuyHandler 拼团业务处理器
// 核心职责：建团、容量受控的原子参团、过期计算与团状态查询
type GroupBuyHandler struct {
	groupRepo    GroupStore     // 拼团持久化操作
	templateRepo TemplateStore  // 拼团模板查询
	limiter      RateLimiter    // 动作限流
	publisher    EventPublisher // 团事件发布
}

// NewGroupBuyHandler 创建拼团处理器实例
func NewGroupBuyHandler() *GroupBuyHandler {
	return &GroupBuyHandler{
		groupRepo:    repository.NewGroupRepository(),
		templateRepo: repository.NewGoodsRepository(),
		limiter:      NewEngagementHandler(),
		publisher:    repository.NewKafkaRepository(),
	}
}

// CreateGroup 创建新团
// 建团、写入创建者参团记录与基础订单是一个事务，要么全部成功要么全部失败
func (h *GroupBuyHandler) CreateGroup(ctx context.Context, template model.GroupBuyTemplate, userId int64, payload *model.OrderPayload) (*model.GroupSnapshot, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if template.Capacity <= 0 || template.EffectiveHours <= 0 {
		return nil, model.ErrInvalidPayload
	}

	// 开团限流检查
	allowed, err := h.limiter.IsActionAllowed(userId, ActionCreate, createWindowSeconds, createMaxCount)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, model.ErrRateLimited
	}

	groupId, err := repository.NewGroupId()
	if err != nil {
		return nil, fmt.Errorf("generate group id failed: %v", err)
	}
	orderId, err := repository.NewOrderId()
	if err != nil {
		return nil, fmt.Errorf("generate order id failed: %v", err)
	}

	group := &model.GroupInstance{
		GroupId:       groupId,
		TemplateId:    template.TemplateId,
		GoodsId:       template.GoodsId,
		CreatorUserId: userId,
		JoinCount:     1, // 创建者即首个参团人
		Capacity:      template.Capacity,
		Version:       0,
	}

	// 建团事务：团实例 + 创建者参团记录 + 基础订单
	err = h.groupRepo.WithTransaction(func(tx *gorm.DB) error {
		if err := h.groupRepo.CreateGroupInstance(tx, group); err != nil {
			return err
		}
		if err := h.groupRepo.AddParticipation(tx, &model.Participation{
			GroupId:   groupId,
			UserId:    userId,
			OrderId:   orderId,
			UserName:  payload.UserName,
			AvatarUrl: payload.AvatarUrl,
		}); err != nil {
			return err
		}
		return h.groupRepo.AddSimpleOrder(tx, &model.SimpleOrder{
			OrderId:    orderId,
			UserId:     userId,
			GoodsId:    template.GoodsId,
			Price:      template.GroupBuyPrice,
			Quantity:   payload.Quantity,
			IsGroupBuy: 1,
			GroupId:    groupId,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	// 发送建团事件（带重试，失败不影响主流程）
	h.publishGroupEvent(ctx, &model.GroupEventMessage{
		EventType: model.GroupEventCreated,
		GroupId:   groupId,
		GoodsId:   template.GoodsId,
		UserId:    userId,
		OrderId:   orderId,
		JoinCount: 1,
		Capacity:  template.Capacity,
		CreatedAt: time.Now(),
	})

	return h.GetGroupView(groupId)
}

// JoinGroup 参团
// 容量检查与参团追加通过乐观锁条件更新在单个事务内完成，
// 并发参团者在仅剩一个名额时不可能同时成功；版本冲突有限次重试
func (h *GroupBuyHandler) JoinGroup(ctx context.Context, groupId string, userId int64, payload *model.OrderPayload) (*model.GroupSnapshot, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	// 参团限流检查
	allowed, err := h.limiter.IsActionAllowed(userId, ActionJoin, joinWindowSeconds, joinMaxCount)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, model.ErrRateLimited
	}

	for attempt := 0; attempt < maxJoinRetries; attempt++ {
		group, template, err := h.loadGroupWithTemplate(groupId)
		if err != nil {
			return nil, err
		}

		// 先做快速业务校验，避免无谓的事务开销
		now := time.Now()
		if group.JoinCount >= group.Capacity {
			return nil, model.ErrGroupFull
		}
		if !now.Before(group.ExpireTime(template.EffectiveHours)) {
			return nil, model.ErrGroupExpired
		}

		joined, err := h.groupRepo.HasParticipant(groupId, userId)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}
		if joined {
			return nil, model.ErrAlreadyJoined
		}

		orderId, err := repository.NewOrderId()
		if err != nil {
			return nil, fmt.Errorf("generate order id failed: %v", err)
		}

		// 参团事务：容量受控的计数追加 + 参团记录 + 基础订单
		err = h.groupRepo.WithTransaction(func(tx *gorm.DB) error {
			rowsAffected, err := h.groupRepo.OccIncrJoinCount(tx, groupId, group.Version)
			if err != nil {
				return err
			}
			if rowsAffected == 0 {
				// 版本冲突或已满员，回滚后重读区分
				return errVersionConflict
			}
			if err := h.groupRepo.AddParticipation(tx, &model.Participation{
				GroupId:   groupId,
				UserId:    userId,
				OrderId:   orderId,
				UserName:  payload.UserName,
				AvatarUrl: payload.AvatarUrl,
			}); err != nil {
				return err
			}
			return h.groupRepo.AddSimpleOrder(tx, &model.SimpleOrder{
				OrderId:    orderId,
				UserId:     userId,
				GoodsId:    group.GoodsId,
				Price:      template.GroupBuyPrice,
				Quantity:   payload.Quantity,
				IsGroupBuy: 1,
				GroupId:    groupId,
			})
		})
		if err == nil {
			newCount := group.JoinCount + 1
			eventType := model.GroupEventJoined
			if newCount >= group.Capacity {
				eventType = model.GroupEventFull
			}
			h.publishGroupEvent(ctx, &model.GroupEventMessage{
				EventType: eventType,
				GroupId:   groupId,
				GoodsId:   group.GoodsId,
				UserId:    userId,
				OrderId:   orderId,
				JoinCount: newCount,
				Capacity:  group.Capacity,
				CreatedAt: time.Now(),
			})
			return h.GetGroupView(groupId)
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发双击穿过参团预检，落在uk_group_user唯一索引上
			return nil, model.ErrAlreadyJoined
		}
		if !errors.Is(err, errVersionConflict) {
			return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
		}

		slog.Info("Join contention detected, retrying",
			"group_id", groupId,
			"user_id", userId,
			"attempt", attempt+1,
		)

		// 有界退避后重试，调用方取消时立即放弃
		select {
		case <-time.After(joinRetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, model.ErrContention
}

// GetGroupView 查询团状态快照，只读不改状态
func (h *GroupBuyHandler) GetGroupView(groupId string) (*model.GroupSnapshot, error) {
	group, template, err := h.loadGroupWithTemplate(groupId)
	if err != nil {
		return nil, err
	}

	participants, err := h.groupRepo.ListParticipants(groupId)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	now := time.Now()
	expireTime := group.ExpireTime(template.EffectiveHours)
	views := make([]model.ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, model.ParticipantView{
			UserId:    p.UserId,
			UserName:  p.UserName,
			AvatarUrl: p.AvatarUrl,
			JoinTime:  p.CreateTime,
		})
	}

	return &model.GroupSnapshot{
		GroupId:       group.GroupId,
		GoodsId:       group.GoodsId,
		CreatorUserId: group.CreatorUserId,
		JoinCount:     group.JoinCount,
		Capacity:      group.Capacity,
		GroupBuyPrice: template.GroupBuyPrice,
		Status:        group.Status(template.EffectiveHours, now),
		CanJoin:       group.JoinCount < group.Capacity && now.Before(expireTime),
		CreateTime:    group.CreateTime,
		ExpireTime:    expireTime,
		Participants:  views,
	}, nil
}

// loadGroupWithTemplate 读取团实例及其模板
func (h *GroupBuyHandler) loadGroupWithTemplate(groupId string) (model.GroupInstance, model.GroupBuyTemplate, error) {
	group, err := h.groupRepo.GetGroupById(groupId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.GroupInstance{}, model.GroupBuyTemplate{}, model.ErrNotFound
		}
		return model.GroupInstance{}, model.GroupBuyTemplate{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	template, err := h.templateRepo.FindTemplateById(group.TemplateId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.GroupInstance{}, model.GroupBuyTemplate{}, model.ErrNotFound
		}
		return model.GroupInstance{}, model.GroupBuyTemplate{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return group, template, nil
}

// publishGroupEvent 带重试的团事件发送，最终失败只记录日志
func (h *GroupBuyHandler) publishGroupEvent(ctx context.Context, event *model.GroupEventMessage) {
	if err := h.sendGroupEventWithRetry(ctx, event, 3); err != nil {
		log.Printf("Failed to send group event to Kafka after retries: %v", err)
	}
}

// sendGroupEventWithRetry 带指数退避的Kafka消息发送
func (h *GroupBuyHandler) sendGroupEventWithRetry(ctx context.Context, event *model.GroupEventMessage, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := h.publisher.SendGroupEventMessage(ctx, event)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("Kafka send attempt %d failed: %v", i+1, err)

		// 指数退避
		backoff := time.Duration(i*i) * time.Second
		select {
		case <-time.After(backoff):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to send group event after %d retries: %v", maxRetries, lastErr)
}
