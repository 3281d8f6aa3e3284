package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"groupbuy_system/global"
	"groupbuy_system/handler"
	"groupbuy_system/model"
	"groupbuy_system/repository"

	"gorm.io/gorm"
)

// 单例模式相关变量
var (
	groupServiceInstance *GroupBuyService
	groupServiceOnce     sync.Once
)

// 通用请求限流动作名，窗口固定60秒，阈值由ETCD配置
const actionRequest = "userrequest"

// 计数排序相关常量
const (
	orderByView = "view" // 按浏览量排序
	orderByLove = "love" // 按收藏数排序

	// 参与计数排序的最大候选商品数，超出部分按创建时间截断
	countSortCandidateLimit = 500
)

// mapStoreError 将底层存储错误映射为业务错误
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
}

// GroupBuyService 拼团服务，封装核心业务编排逻辑
type GroupBuyService struct {
	GroupRepo  *repository.GroupRepository // 拼团持久化操作
	GoodsRepo  *repository.GoodsRepository // 商品目录操作
	RedisRepo  *repository.RedisRepository // Redis操作
	KafkaRepo  *repository.KafkaRepository // Kafka消息队列操作
	EtcdRepo   *repository.ETCDRepository  // ETCD配置中心操作
	GroupBuy   *handler.GroupBuyHandler    // 拼团处理器
	Engagement *handler.EngagementHandler  // 互动计数处理器
}

// NewGroupBuyService 创建拼团服务实例
func NewGroupBuyService() *GroupBuyService {
	service := &GroupBuyService{
		GroupRepo:  repository.NewGroupRepository(),
		GoodsRepo:  repository.NewGoodsRepository(),
		RedisRepo:  repository.NewRedisRepository(),
		KafkaRepo:  repository.NewKafkaRepository(),
		EtcdRepo:   repository.NewETCDRepository(),
		GroupBuy:   handler.NewGroupBuyHandler(),
		Engagement: handler.NewEngagementHandler(),
	}

	service.StartGroupEventConsumer() // 启动团事件消费者
	service.StartConfigWatcher()      // 启动配置变更监听
	return service
}

// GetGroupBuyService 获取拼团服务单例
func GetGroupBuyService() *GroupBuyService {
	groupServiceOnce.Do(func() {
		groupServiceInstance = NewGroupBuyService()
	})
	return groupServiceInstance
}

// GenerateUserToken 生成用户令牌
func (gs *GroupBuyService) GenerateUserToken(userId int64) (string, error) {
	return gs.RedisRepo.GenerateUserToken(userId)
}

// VerifyUserToken 验证用户令牌
func (gs *GroupBuyService) VerifyUserToken(token string) (int64, error) {
	return gs.RedisRepo.VerifyUserToken(token)
}

// checkAccess 拼团请求公共前置检查：系统开关、黑名单、ETCD配置限流
func (gs *GroupBuyService) checkAccess(ctx context.Context, userId int64) error {
	// 检查拼团系统是否开启
	enabled, err := gs.EtcdRepo.GetGroupBuyEnabled(ctx)
	if err != nil {
		return fmt.Errorf("check group buy enabled failed: %v", err)
	}
	if !enabled {
		return errors.New("group buy system is temporarily disabled")
	}

	// 检查用户是否在黑名单
	inBlacklist, err := gs.EtcdRepo.IsInBlacklist(ctx, userId)
	if err != nil {
		return fmt.Errorf("check blacklist failed: %v", err)
	}
	if inBlacklist {
		return errors.New("user is in blacklist")
	}

	// 按ETCD配置做通用请求限流
	rateLimit, err := gs.EtcdRepo.GetRateLimitConfig(ctx)
	if err != nil {
		rateLimit = 30 // 默认限流值
	}
	allowed, err := gs.Engagement.IsActionAllowed(userId, actionRequest, 60, rateLimit)
	if err != nil {
		return fmt.Errorf("check user rate limit failed: %v", err)
	}
	if !allowed {
		return model.ErrRateLimited
	}
	return nil
}

// CreateGroupBuy 为商品开新团
func (gs *GroupBuyService) CreateGroupBuy(ctx context.Context, userId, goodsId int64, payload *model.OrderPayload) (*model.GroupSnapshot, error) {
	if err := gs.checkAccess(ctx, userId); err != nil {
		return nil, err
	}

	// 获取商品的拼团模板
	template, err := gs.GoodsRepo.FindTemplateByGoodsId(goodsId)
	if err != nil {
		return nil, mapStoreError(err)
	}

	// 检查拼团活动时间窗口
	now := time.Now()
	if now.Before(template.BeginTime) || now.After(template.EndTime) {
		return nil, errors.New("group buy activity is not available")
	}

	return gs.GroupBuy.CreateGroup(ctx, template, userId, payload)
}

// JoinGroupBuy 参加已有团
// 以团ID为粒度获取ETCD分布式锁，跨进程串行化同一个团上的参团请求；
// 锁内的数据库乐观锁是最终正确性保障，锁本身用于降低冲突重试
func (gs *GroupBuyService) JoinGroupBuy(ctx context.Context, userId int64, groupId string, payload *model.OrderPayload) (*model.GroupSnapshot, error) {
	if err := gs.checkAccess(ctx, userId); err != nil {
		return nil, err
	}

	lockKey := global.EtcdKeyGroupLock + groupId

	// 使用带超时的context获取锁
	lockCtx, lockCancel := context.WithTimeout(ctx, 3*time.Second)
	defer lockCancel()

	locked, err := gs.EtcdRepo.GetDistributedLock(lockCtx, lockKey, 10)
	if err != nil {
		return nil, fmt.Errorf("acquire group lock failed: %v", err)
	}
	if !locked {
		// 锁被其他参团请求持有，让调用方退避重试
		return nil, model.ErrContention
	}
	defer func() {
		// 使用新的context释放锁，避免使用已取消的context
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer releaseCancel()
		if releaseErr := gs.EtcdRepo.ReleaseDistributedLock(releaseCtx, lockKey); releaseErr != nil {
			log.Printf("Failed to release group lock %s: %v", lockKey, releaseErr)
		}
	}()

	return gs.GroupBuy.JoinGroup(ctx, groupId, userId, payload)
}

// GetGroupBuyView 查询团状态快照
func (gs *GroupBuyService) GetGroupBuyView(groupId string) (*model.GroupSnapshot, error) {
	return gs.GroupBuy.GetGroupView(groupId)
}

// FindGoodById 根据ID查询商品
func (gs *GroupBuyService) FindGoodById(goodsId int64) (model.Goods, error) {
	good, err := gs.GoodsRepo.FindGoodById(goodsId)
	return good, mapStoreError(err)
}

// ListGoods 按条件分页查询商品列表
// 价格/时间排序由数据库完成；浏览量/收藏数存于KV存储，
// 需取回候选集后按计数在内存中排序再分页
func (gs *GroupBuyService) ListGoods(query repository.GoodsQuery) ([]model.Goods, int64, error) {
	if query.OrderBy != orderByView && query.OrderBy != orderByLove {
		return gs.GoodsRepo.ListGoods(query)
	}

	goods, total, err := gs.GoodsRepo.ListGoodsForCountSort(query, countSortCandidateLimit)
	if err != nil {
		return nil, 0, mapStoreError(err)
	}

	if err := sortGoodsByCounts(goods, gs.Engagement.GetCounts, query.OrderBy, query.Asc); err != nil {
		return nil, 0, err
	}
	return pageSlice(goods, query.Page, query.PageSize), total, nil
}

// sortGoodsByCounts 按浏览量或收藏数对商品排序
// 计数相同时按商品ID升序，保证分页结果稳定
func sortGoodsByCounts(goods []model.Goods, counts func(goodsId int64) (model.GoodsCounts, error), orderBy string, asc bool) error {
	values := make(map[int64]int64, len(goods))
	for _, good := range goods {
		c, err := counts(good.GoodsId)
		if err != nil {
			return err
		}
		if orderBy == orderByLove {
			values[good.GoodsId] = c.LoveCount
		} else {
			values[good.GoodsId] = c.ViewCount
		}
	}

	sort.SliceStable(goods, func(i, j int) bool {
		vi, vj := values[goods[i].GoodsId], values[goods[j].GoodsId]
		if vi == vj {
			return goods[i].GoodsId < goods[j].GoodsId
		}
		if asc {
			return vi < vj
		}
		return vi > vj
	})
	return nil
}

// pageSlice 对内存中的商品序列做分页切片
func pageSlice(goods []model.Goods, page, pageSize int) []model.Goods {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 15
	}
	start := (page - 1) * pageSize
	if start >= len(goods) {
		return []model.Goods{}
	}
	end := start + pageSize
	if end > len(goods) {
		end = len(goods)
	}
	return goods[start:end]
}

// ListCategories 查询全部商品分类
func (gs *GroupBuyService) ListCategories() ([]model.Category, error) {
	return gs.GoodsRepo.ListCategories()
}

// FindTemplateByGoodsId 查询商品的拼团模板
func (gs *GroupBuyService) FindTemplateByGoodsId(goodsId int64) (model.GroupBuyTemplate, error) {
	template, err := gs.GoodsRepo.FindTemplateByGoodsId(goodsId)
	return template, mapStoreError(err)
}

// RecordGoodsView 记录商品浏览（按用户按天去重）
func (gs *GroupBuyService) RecordGoodsView(goodsId, userId int64) (int64, error) {
	return gs.Engagement.RecordView(goodsId, userId)
}

// ToggleGoodsLove 切换商品收藏状态
func (gs *GroupBuyService) ToggleGoodsLove(goodsId, userId int64, summary model.UserSummary) (bool, error) {
	return gs.Engagement.ToggleLove(goodsId, userId, summary)
}

// GetGoodsCounts 查询商品浏览量与收藏人数
func (gs *GroupBuyService) GetGoodsCounts(goodsId int64) (model.GoodsCounts, error) {
	return gs.Engagement.GetCounts(goodsId)
}

// GetLoveMembers 查询商品收藏用户列表
func (gs *GroupBuyService) GetLoveMembers(goodsId int64) ([]model.UserSummary, error) {
	return gs.Engagement.GetLoveMembers(goodsId)
}

// IsGoodsLoved 判断用户是否已收藏商品
func (gs *GroupBuyService) IsGoodsLoved(goodsId, userId int64) (bool, error) {
	return gs.Engagement.IsLoved(goodsId, userId)
}

// CreateSimpleOrder 创建普通（非拼团）订单
func (gs *GroupBuyService) CreateSimpleOrder(userId, goodsId int64, payload *model.OrderPayload) (model.SimpleOrder, error) {
	if err := payload.Validate(); err != nil {
		return model.SimpleOrder{}, err
	}

	good, err := gs.GoodsRepo.FindGoodById(goodsId)
	if err != nil {
		return model.SimpleOrder{}, mapStoreError(err)
	}

	orderId, err := repository.NewOrderId()
	if err != nil {
		return model.SimpleOrder{}, fmt.Errorf("generate order id failed: %v", err)
	}

	order := model.SimpleOrder{
		OrderId:    orderId,
		UserId:     userId,
		GoodsId:    good.GoodsId,
		Price:      good.NowPrice,
		Quantity:   payload.Quantity,
		IsGroupBuy: 0,
	}
	err = gs.GroupRepo.WithTransaction(func(tx *gorm.DB) error {
		return gs.GroupRepo.AddSimpleOrder(tx, &order)
	})
	if err != nil {
		return model.SimpleOrder{}, err
	}
	return order, nil
}

// GetOrderById 根据订单ID查询订单
func (gs *GroupBuyService) GetOrderById(orderId string) (model.SimpleOrder, error) {
	order, err := gs.GroupRepo.FindOrderById(orderId)
	return order, mapStoreError(err)
}

// SetGroupBuyEnabled 设置拼团开关状态
func (gs *GroupBuyService) SetGroupBuyEnabled(enabled bool) error {
	return gs.EtcdRepo.SetGroupBuyEnabled(context.Background(), enabled)
}

// SetRateLimit 设置限流值
func (gs *GroupBuyService) SetRateLimit(limit int64) error {
	return gs.EtcdRepo.SetRateLimitConfig(context.Background(), limit)
}

// AddToBlacklist 添加用户到黑名单
func (gs *GroupBuyService) AddToBlacklist(userId int64, reason string, duration time.Duration) error {
	return gs.EtcdRepo.AddToBlacklist(context.Background(), userId, reason, duration)
}

// RemoveFromBlacklist 从黑名单移除用户
func (gs *GroupBuyService) RemoveFromBlacklist(userId int64) error {
	return gs.EtcdRepo.RemoveFromBlacklist(context.Background(), userId)
}

// GetBlacklist 获取黑名单列表
func (gs *GroupBuyService) GetBlacklist() ([]map[string]any, error) {
	return gs.EtcdRepo.GetBlacklist(context.Background())
}

// ResetGroup 重置团实例（测试/运维用）
func (gs *GroupBuyService) ResetGroup(groupId string) error {
	return gs.GroupRepo.ResetGroup(groupId)
}

// StartGroupEventConsumer 启动团事件消息消费者
func (gs *GroupBuyService) StartGroupEventConsumer() {
	go func() {
		log.Println("Starting group event consumer...")
		// 消费团事件消息
		err := gs.KafkaRepo.ConsumeGroupEvents(context.Background(), func(event model.GroupEventMessage) error {
			// 根据事件类型处理
			switch event.EventType {
			case model.GroupEventCreated:
				log.Printf("Group created: %s for goods %d by user %d", event.GroupId, event.GoodsId, event.UserId)

			case model.GroupEventJoined:
				log.Printf("Group joined: %s, progress %d/%d", event.GroupId, event.JoinCount, event.Capacity)

			case model.GroupEventFull:
				// 满员成团，触发后续履约流程
				log.Printf("Group full: %s, triggering fulfillment for %d participants", event.GroupId, event.JoinCount)
			}

			return nil
		})
		if err != nil {
			log.Printf("Group event consumer failed: %v", err)
		}
	}()
}

// StartConfigWatcher 启动ETCD配置监听
func (gs *GroupBuyService) StartConfigWatcher() {
	go func() {
		log.Println("Starting etcd config watcher...")
		// 监听拼团配置变更
		gs.EtcdRepo.WatchGroupBuyConfig(context.Background(), func(key, value string) {
			log.Printf("Config changed - Key: %s, Value: %s", key, value)

			// 根据不同的配置键处理变更
			switch key {
			case global.EtcdKeyGroupBuyEnabled:
				if value == "false" {
					log.Println("Group buy system has been disabled via etcd config")
				} else {
					log.Println("Group buy system has been enabled via etcd config")
				}
			case global.EtcdKeyRateLimit:
				log.Printf("Rate limit config changed to: %s", value)
			}
		})
	}()
}
