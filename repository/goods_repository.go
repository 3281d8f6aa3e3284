package repository

import (
	"log/slog"
	"time"

	"groupbuy_system/global"
	"groupbuy_system/model"

	"gorm.io/gorm"
)

// GoodsRepository 商品目录数据访问层
// 负责商品、分类与拼团模板的数据库操作
type GoodsRepository struct {
	db *gorm.DB // 数据库连接实例
}

// NewGoodsRepository 创建商品仓库实例
func NewGoodsRepository() *GoodsRepository {
	return &GoodsRepository{
		db: global.DBClient, // 使用全局数据库客户端
	}
}

// GoodsQuery 商品列表查询条件
type GoodsQuery struct {
	CategoryId   int64  // 分类过滤，0表示不过滤
	GroupBuyOnly bool   // 仅返回当前有拼团活动的商品
	Search       string // 名称模糊搜索
	OrderBy      string // 排序字段：now_price / create_time
	Asc          bool   // 是否升序，默认降序
	Page         int    // 页码，从1开始
	PageSize     int    // 每页条数
}

// FindGoodById 根据商品ID查询商品信息
func (dao *GoodsRepository) FindGoodById(goodsId int64) (model.Goods, error) {
	var good model.Goods
	err := dao.db.Where("goods_id = ? AND goods_status = 1", goodsId).First(&good).Error
	if err != nil {
		slog.Warn("Good not found in database",
			"goods_id", goodsId,
			"error", err,
		)
	}
	return good, err
}

// goodsFilter 构造商品列表的公共过滤条件
func (dao *GoodsRepository) goodsFilter(query GoodsQuery) *gorm.DB {
	db := dao.db.Model(&model.Goods{}).Where("goods_status = 1")

	if query.CategoryId > 0 {
		db = db.Where("category_id = ?", query.CategoryId)
	}
	if query.Search != "" {
		db = db.Where("name LIKE ?", "%"+query.Search+"%")
	}
	if query.GroupBuyOnly {
		// 仅保留当前处于拼团活动窗口内的商品
		now := time.Now()
		sub := dao.db.Model(&model.GroupBuyTemplate{}).
			Select("goods_id").
			Where("begin_time <= ? AND end_time >= ?", now, now)
		db = db.Where("goods_id IN (?)", sub)
	}
	return db
}

// ListGoods 按条件分页查询上架商品列表，返回商品与总数
// 仅支持数据库内字段排序；按浏览量/收藏数排序走ListGoodsForCountSort
func (dao *GoodsRepository) ListGoods(query GoodsQuery) ([]model.Goods, int64, error) {
	db := dao.goodsFilter(query)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 排序字段白名单，非法值回落到创建时间
	orderBy := query.OrderBy
	switch orderBy {
	case "now_price", "create_time":
	default:
		orderBy = "create_time"
	}
	direction := " DESC"
	if query.Asc {
		direction = " ASC"
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 15
	}

	var goods []model.Goods
	err := db.Order(orderBy + direction).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&goods).Error
	if err != nil {
		slog.Error("Failed to list goods", "error", err)
		return nil, 0, err
	}

	return goods, total, nil
}

// ListGoodsForCountSort 查询参与计数排序的候选商品集
// 浏览量与收藏数存于KV存储，无法在SQL中排序；调用方取回候选集后
// 按计数在内存中排序再分页。limit限定候选集规模
func (dao *GoodsRepository) ListGoodsForCountSort(query GoodsQuery, limit int) ([]model.Goods, int64, error) {
	db := dao.goodsFilter(query)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var goods []model.Goods
	err := db.Order("create_time DESC").
		Limit(limit).
		Find(&goods).Error
	if err != nil {
		slog.Error("Failed to list goods for count sort", "error", err)
		return nil, 0, err
	}

	return goods, total, nil
}

// ListCategories 查询全部商品分类
func (dao *GoodsRepository) ListCategories() ([]model.Category, error) {
	var categories []model.Category
	err := dao.db.Order("category_id ASC").Find(&categories).Error
	return categories, err
}

// FindTemplateByGoodsId 根据商品ID获取拼团模板
func (dao *GoodsRepository) FindTemplateByGoodsId(goodsId int64) (model.GroupBuyTemplate, error) {
	var template model.GroupBuyTemplate
	err := dao.db.Where("goods_id = ?", goodsId).First(&template).Error
	if err != nil {
		slog.Warn("Group buy template not found in database",
			"goods_id", goodsId,
			"error", err,
		)
	}
	return template, err
}

// FindTemplateById 根据模板ID获取拼团模板
func (dao *GoodsRepository) FindTemplateById(templateId int64) (model.GroupBuyTemplate, error) {
	var template model.GroupBuyTemplate
	err := dao.db.Where("template_id = ?", templateId).First(&template).Error
	if err != nil {
		slog.Warn("Group buy template not found in database",
			"template_id", templateId,
			"error", err,
		)
	}
	return template, err
}
