package model

import (
	"time"
)

// Goods 商品信息表
type Goods struct {
	GoodsId        int64     `gorm:"primaryKey;column:goods_id" json:"goods_id"`                     // 商品ID，主键
	Name           string    `gorm:"size:100;column:name" json:"name"`                               // 商品名称，最大长度100
	SubTitle       string    `gorm:"size:200;column:sub_title" json:"sub_title"`                     // 商品副标题，最大长度200
	OriginalPrice  float64   `gorm:"column:original_price" json:"original_price"`                    // 商品原价
	NowPrice       float64   `gorm:"column:now_price" json:"now_price"`                              // 商品现价
	IsFreeDelivery int32     `gorm:"column:is_free_delivery" json:"is_free_delivery"`                // 是否包邮：0-不包邮，1-包邮
	CategoryId     int64     `gorm:"index;column:category_id" json:"category_id"`                    // 商品分类ID，有索引
	GoodsStatus    int32     `gorm:"column:goods_status" json:"goods_status"`                        // 商品状态：0-下架，1-上架
	CreateTime     time.Time `gorm:"autoCreateTime;column:create_time" json:"create_time"`           // 创建时间，自动生成
	LastUpdateTime time.Time `gorm:"autoUpdateTime;column:last_update_time" json:"last_update_time"` // 最后更新时间，自动更新
}

// Category 商品分类表
type Category struct {
	CategoryId int64  `gorm:"primaryKey;column:category_id" json:"category_id"` // 分类ID，主键
	Name       string `gorm:"size:50;column:name" json:"name"`                  // 分类名称
}

// GroupBuyTemplate 拼团商品模板表
// 每个可拼团商品一条记录，被活跃团引用后不可变更
type GroupBuyTemplate struct {
	TemplateId     int64     `gorm:"primaryKey;column:template_id" json:"template_id"`     // 模板ID，主键
	GoodsId        int64     `gorm:"index;column:goods_id" json:"goods_id"`                // 商品ID，有索引
	Capacity       int64     `gorm:"column:capacity" json:"capacity"`                      // 成团人数上限
	EffectiveHours int64     `gorm:"column:effective_hours" json:"effective_hours"`        // 团有效时长（小时）
	GroupBuyPrice  float64   `gorm:"column:group_buy_price" json:"group_buy_price"`        // 拼团价格
	BeginTime      time.Time `gorm:"column:begin_time" json:"begin_time"`                  // 拼团活动开始时间
	EndTime        time.Time `gorm:"column:end_time" json:"end_time"`                      // 拼团活动结束时间
	CreateTime     time.Time `gorm:"autoCreateTime;column:create_time" json:"create_time"` // 创建时间，自动生成
}

// GroupInstance 拼团实例表
// join_count与capacity冗余存储，配合version实现条件更新防止超员
type GroupInstance struct {
	GroupId       string    `gorm:"primaryKey;size:40;column:group_id" json:"group_id"`   // 团ID，主键，PT前缀随机令牌
	TemplateId    int64     `gorm:"index;column:template_id" json:"template_id"`          // 拼团模板ID
	GoodsId       int64     `gorm:"index;column:goods_id" json:"goods_id"`                // 商品ID
	CreatorUserId int64     `gorm:"column:creator_user_id" json:"creator_user_id"`        // 开团用户ID
	JoinCount     int64     `gorm:"column:join_count" json:"join_count"`                  // 当前参团人数
	Capacity      int64     `gorm:"column:capacity" json:"capacity"`                      // 成团人数上限（建团时从模板拷贝）
	Version       int64     `gorm:"column:version" json:"version"`                        // 版本号，用于乐观锁控制并发
	CreateTime    time.Time `gorm:"autoCreateTime;column:create_time" json:"create_time"` // 建团时间，创建后不可变
}

// ExpireTime 计算团的过期时间（建团时间 + 有效小时数），只派生不落库
func (g *GroupInstance) ExpireTime(effectiveHours int64) time.Time {
	return g.CreateTime.Add(time.Duration(effectiveHours) * time.Hour)
}

// 团状态常量（派生状态，不落库）
const (
	GroupStatusOpen    = "OPEN"    // 未满员且未过期
	GroupStatusFull    = "FULL"    // 已满员，终态
	GroupStatusExpired = "EXPIRED" // 已过期且未满员，终态
)

// Status 派生团状态
func (g *GroupInstance) Status(effectiveHours int64, now time.Time) string {
	if g.JoinCount >= g.Capacity {
		return GroupStatusFull
	}
	if !now.Before(g.ExpireTime(effectiveHours)) {
		return GroupStatusExpired
	}
	return GroupStatusOpen
}

// Participation 参团记录表
// 每次成功参团写入一条，永不删除或改序
type Participation struct {
	Id         int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`                      // 自增主键，保证追加顺序
	GroupId    string    `gorm:"size:40;uniqueIndex:uk_group_user;column:group_id" json:"group_id"` // 团ID
	UserId     int64     `gorm:"uniqueIndex:uk_group_user;column:user_id" json:"user_id"`           // 用户ID，同一团内唯一
	OrderId    string    `gorm:"size:40;column:order_id" json:"order_id"`                           // 关联的基础订单ID
	UserName   string    `gorm:"size:64;column:user_name" json:"user_name"`                         // 参团时的用户昵称快照
	AvatarUrl  string    `gorm:"size:255;column:avatar_url" json:"avatar_url"`                      // 参团时的用户头像快照
	CreateTime time.Time `gorm:"autoCreateTime;column:create_time" json:"create_time"`              // 参团时间，自动生成
}

// SimpleOrder 基础订单表
type SimpleOrder struct {
	OrderId    string    `gorm:"primaryKey;size:40;column:order_id" json:"order_id"`   // 订单ID，主键，SO前缀随机令牌
	UserId     int64     `gorm:"index;column:user_id" json:"user_id"`                  // 下单用户ID
	GoodsId    int64     `gorm:"index;column:goods_id" json:"goods_id"`                // 商品ID
	Price      float64   `gorm:"column:price" json:"price"`                            // 成交单价
	Quantity   int64     `gorm:"column:quantity" json:"quantity"`                      // 购买数量
	IsGroupBuy int32     `gorm:"column:is_group_buy" json:"is_group_buy"`              // 是否拼团订单：0-否，1-是
	GroupId    string    `gorm:"size:40;index;column:group_id" json:"group_id"`        // 所属团ID，非拼团订单为空
	State      int16     `gorm:"column:state" json:"state"`                            // 订单状态：0-成功未支付，1-已支付，2-已取消
	CreateTime time.Time `gorm:"autoCreateTime;column:create_time" json:"create_time"` // 创建时间，自动生成
}

// OrderPayload 下单请求载荷
type OrderPayload struct {
	Quantity  int64  `json:"quantity"`   // 购买数量，必须为正
	UserName  string `json:"user_name"`  // 用户昵称快照
	AvatarUrl string `json:"avatar_url"` // 用户头像快照
}

// Validate 校验订单载荷合法性
func (p *OrderPayload) Validate() error {
	if p == nil || p.Quantity <= 0 {
		return ErrInvalidPayload
	}
	return nil
}

// UserSummary 用户摘要快照（存入Redis的love集合，不含敏感字段）
type UserSummary struct {
	UserId    int64  `json:"user_id"`    // 用户ID
	UserName  string `json:"user_name"`  // 用户昵称
	AvatarUrl string `json:"avatar_url"` // 用户头像
}

// ParticipantView 参团用户视图（对外返回的摘要）
type ParticipantView struct {
	UserId    int64     `json:"user_id"`    // 用户ID
	UserName  string    `json:"user_name"`  // 用户昵称快照
	AvatarUrl string    `json:"avatar_url"` // 用户头像快照
	JoinTime  time.Time `json:"join_time"`  // 参团时间
}

// GroupSnapshot 团状态快照（只读视图）
type GroupSnapshot struct {
	GroupId       string            `json:"group_id"`        // 团ID
	GoodsId       int64             `json:"goods_id"`        // 商品ID
	CreatorUserId int64             `json:"creator_user_id"` // 开团用户ID
	JoinCount     int64             `json:"join_count"`      // 当前参团人数
	Capacity      int64             `json:"capacity"`        // 成团人数上限
	GroupBuyPrice float64           `json:"group_buy_price"` // 拼团价格
	Status        string            `json:"status"`          // 团状态：OPEN/FULL/EXPIRED
	CanJoin       bool              `json:"can_join"`        // 是否可参团
	CreateTime    time.Time         `json:"create_time"`     // 建团时间
	ExpireTime    time.Time         `json:"expire_time"`     // 过期时间（派生）
	Participants  []ParticipantView `json:"participants"`    // 参团用户摘要列表
}

// GoodsCounts 商品计数快照
type GoodsCounts struct {
	ViewCount int64 `json:"view_count"` // 浏览量
	LoveCount int64 `json:"love_count"` // 收藏人数
}

// RedisToken 用户令牌信息（Redis存储）
type RedisToken struct {
	Token     string    `json:"token"`      // 用户认证令牌
	UserId    int64     `json:"user_id"`    // 用户ID
	ExpireAt  time.Time `json:"expire_at"`  // 令牌过期时间
	CreatedAt time.Time `json:"created_at"` // 令牌创建时间
}

// GroupEventMessage 团事件消息（用于消息队列）
type GroupEventMessage struct {
	EventType string    `json:"event_type"` // 事件类型：created/joined/full
	GroupId   string    `json:"group_id"`   // 团ID
	GoodsId   int64     `json:"goods_id"`   // 商品ID
	UserId    int64     `json:"user_id"`    // 触发事件的用户ID
	OrderId   string    `json:"order_id"`   // 关联订单ID
	JoinCount int64     `json:"join_count"` // 事件发生后的参团人数
	Capacity  int64     `json:"capacity"`   // 成团人数上限
	CreatedAt time.Time `json:"created_at"` // 事件时间
}

// 团事件类型常量
const (
	GroupEventCreated = "created" // 新团创建
	GroupEventJoined  = "joined"  // 用户参团
	GroupEventFull    = "full"    // 满员成团
)

// ETCDConfig ETCD配置信息
type ETCDConfig struct {
	Key     string `json:"key"`     // 配置键
	Value   string `json:"value"`   // 配置值
	Version int64  `json:"version"` // 配置版本号
}

// TableName 指定Goods模型对应的数据库表名
func (Goods) TableName() string {
	return "goods"
}

// TableName 指定Category模型对应的数据库表名
func (Category) TableName() string {
	return "category"
}

// TableName 指定GroupBuyTemplate模型对应的数据库表名
func (GroupBuyTemplate) TableName() string {
	return "group_buy_template"
}

// TableName 指定GroupInstance模型对应的数据库表名
func (GroupInstance) TableName() string {
	return "group_instance"
}

// TableName 指定Participation模型对应的数据库表名
func (Participation) TableName() string {
	return "participation"
}

// TableName 指定SimpleOrder模型对应的数据库表名
func (SimpleOrder) TableName() string {
	return "simple_order"
}
