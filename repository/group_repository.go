package repository

import (
	"fmt"
	"log/slog"

	"groupbuy_system/global"
	"groupbuy_system/model"

	"gorm.io/gorm"
)

// GroupRepository 拼团持久化数据访问层
// 负责团实例、参团记录与基础订单的事务性读写
type GroupRepository struct {
	db *gorm.DB // 数据库连接实例
}

// NewGroupRepository 创建拼团仓库实例
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{
		db: global.DBClient, // 使用全局数据库客户端
	}
}

// NewGroupId 生成带PT前缀的团ID
func NewGroupId() (string, error) {
	token, err := GenerateRandomString(16)
	if err != nil {
		return "", err
	}
	return "PT" + token, nil
}

// NewOrderId 生成带SO前缀的订单ID
func NewOrderId() (string, error) {
	token, err := GenerateRandomString(16)
	if err != nil {
		return "", err
	}
	return "SO" + token, nil
}

// GetGroupById 根据团ID查询团实例
func (dao *GroupRepository) GetGroupById(groupId string) (model.GroupInstance, error) {
	var group model.GroupInstance
	err := dao.db.Where("group_id = ?", groupId).First(&group).Error
	if err != nil {
		slog.Warn("Group instance not found in database",
			"group_id", groupId,
			"error", err,
		)
	}
	return group, err
}

// HasParticipant 判断用户是否已在团内
func (dao *GroupRepository) HasParticipant(groupId string, userId int64) (bool, error) {
	var count int64
	err := dao.db.Model(&model.Participation{}).
		Where("group_id = ? AND user_id = ?", groupId, userId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListParticipants 按参团顺序查询团内全部参团记录
func (dao *GroupRepository) ListParticipants(groupId string) ([]model.Participation, error) {
	var participants []model.Participation
	err := dao.db.Where("group_id = ?", groupId).
		Order("id ASC"). // 自增主键即追加顺序
		Find(&participants).Error
	return participants, err
}

// CreateGroupInstance 在事务中创建团实例行
func (dao *GroupRepository) CreateGroupInstance(tx *gorm.DB, group *model.GroupInstance) error {
	err := tx.Create(group).Error
	if err != nil {
		slog.Error("Failed to create group instance",
			"group_id", group.GroupId,
			"goods_id", group.GoodsId,
			"error", err,
		)
	} else {
		slog.Info("Group instance created",
			"group_id", group.GroupId,
			"goods_id", group.GoodsId,
			"capacity", group.Capacity,
			"creator_user_id", group.CreatorUserId,
		)
	}
	return err
}

// OccIncrJoinCount 使用乐观锁追加一个参团名额
// 条件更新同时校验版本号与join_count < capacity，防止并发超员；
// 返回受影响行数，0表示版本冲突或已满员，由调用方重读区分
func (dao *GroupRepository) OccIncrJoinCount(tx *gorm.DB, groupId string, version int64) (int64, error) {
	result := tx.Model(&model.GroupInstance{}).
		Where("group_id = ? AND version = ? AND join_count < capacity", groupId, version).
		Updates(map[string]any{
			"join_count": gorm.Expr("join_count + 1"), // 参团人数加1
			"version":    gorm.Expr("version + 1"),    // 版本号加1
		})

	if result.Error != nil {
		slog.Error("Failed to increase group join count",
			"group_id", groupId,
			"version", version,
			"error", result.Error,
		)
	} else {
		slog.Info("Group join count increased",
			"group_id", groupId,
			"version", version,
			"rows_affected", result.RowsAffected,
		)
	}
	// 返回受影响的行数和错误信息
	return result.RowsAffected, result.Error
}

// AddParticipation 在事务中添加参团记录
func (dao *GroupRepository) AddParticipation(tx *gorm.DB, participation *model.Participation) error {
	err := tx.Create(participation).Error
	if err != nil {
		slog.Error("Failed to add participation record",
			"group_id", participation.GroupId,
			"user_id", participation.UserId,
			"error", err,
		)
	} else {
		slog.Info("Participation record added",
			"group_id", participation.GroupId,
			"user_id", participation.UserId,
			"order_id", participation.OrderId,
		)
	}
	return err
}

// AddSimpleOrder 在事务中添加基础订单记录
func (dao *GroupRepository) AddSimpleOrder(tx *gorm.DB, order *model.SimpleOrder) error {
	err := tx.Create(order).Error
	if err != nil {
		slog.Error("Failed to add simple order",
			"order_id", order.OrderId,
			"user_id", order.UserId,
			"goods_id", order.GoodsId,
			"error", err,
		)
	} else {
		slog.Info("Simple order added",
			"order_id", order.OrderId,
			"user_id", order.UserId,
			"goods_id", order.GoodsId,
			"is_group_buy", order.IsGroupBuy,
		)
	}
	return err
}

// FindOrderById 根据订单ID查询基础订单
func (dao *GroupRepository) FindOrderById(orderId string) (model.SimpleOrder, error) {
	var order model.SimpleOrder
	err := dao.db.Where("order_id = ?", orderId).First(&order).Error
	if err != nil {
		slog.Warn("Simple order not found in database",
			"order_id", orderId,
			"error", err,
		)
	}
	return order, err
}

// WithTransaction 执行数据库事务
// 传入的事务函数会在事务中执行
func (dao *GroupRepository) WithTransaction(fn func(tx *gorm.DB) error) error {
	err := dao.db.Transaction(fn)
	if err != nil {
		slog.Warn("Database transaction rolled back", "error", err)
	}
	return err
}

// ResetGroup 重置团实例（测试/运维用）：清空参团记录并将计数归零
func (dao *GroupRepository) ResetGroup(groupId string) error {
	return dao.WithTransaction(func(tx *gorm.DB) error {
		if groupId == "" {
			return fmt.Errorf("invalid groupId: %q", groupId)
		}

		// 清除团内全部参团记录与订单
		if err := tx.Where("group_id = ?", groupId).Delete(&model.Participation{}).Error; err != nil {
			return fmt.Errorf("failed to clear participations: %w", err)
		}
		if err := tx.Where("group_id = ?", groupId).Delete(&model.SimpleOrder{}).Error; err != nil {
			return fmt.Errorf("failed to clear orders: %w", err)
		}

		// 重置团计数与版本号
		result := tx.Model(&model.GroupInstance{}).
			Where("group_id = ?", groupId).
			Updates(map[string]any{
				"join_count": 0,
				"version":    0,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to reset group counters: %w", result.Error)
		}

		slog.Info("Group reset completed",
			"group_id", groupId,
			"rows_affected", result.RowsAffected,
		)
		return nil
	})
}
