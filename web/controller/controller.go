package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"groupbuy_system/model"
	"groupbuy_system/repository"
	"groupbuy_system/service"

	"github.com/gin-gonic/gin"
)

// GroupBuyController 处理拼团与商品相关请求的控制器
type GroupBuyController struct {
	GroupService *service.GroupBuyService // 拼团服务实例
}

// NewGroupBuyController 创建GroupBuyController实例
func NewGroupBuyController() *GroupBuyController {
	return &GroupBuyController{
		GroupService: service.GetGroupBuyService(),
	}
}

// httpStatusForError 业务错误到HTTP状态码的映射
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyJoined), errors.Is(err, model.ErrGroupFull):
		return http.StatusConflict
	case errors.Is(err, model.ErrGroupExpired):
		return http.StatusGone
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrContention), errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 按统一格式返回错误响应
func writeError(c *gin.Context, err error, message string) {
	c.JSON(httpStatusForError(err), gin.H{
		"code":    -1,
		"error":   err.Error(),
		"message": message,
	})
}

// currentUserId 从上下文取当前用户ID，匿名请求返回0
func currentUserId(c *gin.Context) int64 {
	return c.GetInt64("userId")
}

// orderRequest 下单与开团/参团请求体
type orderRequest struct {
	GoodsId   int64  `json:"goods_id"`   // 商品ID
	Quantity  int64  `json:"quantity"`   // 购买数量
	UserName  string `json:"user_name"`  // 用户昵称快照
	AvatarUrl string `json:"avatar_url"` // 用户头像快照
}

// payload 将请求体转换为订单载荷
func (r *orderRequest) payload() *model.OrderPayload {
	return &model.OrderPayload{
		Quantity:  r.Quantity,
		UserName:  r.UserName,
		AvatarUrl: r.AvatarUrl,
	}
}

// GenerateUserToken 生成用户令牌接口
func (g *GroupBuyController) GenerateUserToken(c *gin.Context) {
	// 从查询参数获取用户ID
	userIdStr := c.Query("user_id")
	userId, err := strconv.ParseInt(userIdStr, 10, 64)
	if err != nil || userId <= 0 {
		// 返回用户ID无效响应
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "invalid user_id parameter",
			"message": "User ID must be a positive integer",
		})
		return
	}

	// 生成用户token
	token, err := g.GroupService.GenerateUserToken(userId)
	if err != nil {
		writeError(c, err, "Failed to generate token")
		return
	}

	// 返回token
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"user_id": userId,
			"token":   token,
		},
		"message": "Token generated successfully",
	})
}

// VerifyToken 验证令牌接口
func (g *GroupBuyController) VerifyToken(c *gin.Context) {
	// 获取令牌参数
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "missing token parameter",
			"message": "Token is required",
		})
		return
	}

	// 验证token
	userId, err := g.GroupService.VerifyUserToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid token",
		})
		return
	}

	// 返回验证成功响应
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"user_id": userId,
			"valid":   true,
		},
		"message": "Token is valid",
	})
}

// ListGoods 商品列表接口，支持分类、拼团筛选、搜索、排序与分页
func (g *GroupBuyController) ListGoods(c *gin.Context) {
	// 组装查询条件
	query := repository.GoodsQuery{
		Search:  c.Query("search"),
		OrderBy: c.Query("order_by"),
	}
	if categoryId, err := strconv.ParseInt(c.Query("category_id"), 10, 64); err == nil {
		query.CategoryId = categoryId
	}
	query.GroupBuyOnly = c.Query("group_buy") == "1"
	query.Asc = c.Query("asc") == "1"
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		query.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("page_size")); err == nil {
		query.PageSize = pageSize
	}

	// 调用服务层查询商品列表
	goods, total, err := g.GroupService.ListGoods(query)
	if err != nil {
		writeError(c, err, "Failed to query goods list")
		return
	}

	// 为每个商品附加浏览量与收藏人数
	items := make([]gin.H, 0, len(goods))
	for _, good := range goods {
		counts, err := g.GroupService.GetGoodsCounts(good.GoodsId)
		if err != nil {
			// 计数读取失败按0处理，不阻塞列表
			counts = model.GoodsCounts{}
		}
		items = append(items, gin.H{
			"good_info":  good,
			"view_count": counts.ViewCount,
			"love_count": counts.LoveCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"goods": items,
			"total": total,
		},
		"message": "Goods list queried successfully",
	})
}

// ListCategories 商品分类列表接口
func (g *GroupBuyController) ListCategories(c *gin.Context) {
	categories, err := g.GroupService.ListCategories()
	if err != nil {
		writeError(c, err, "Failed to query categories")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"categories": categories,
		},
		"message": "Categories queried successfully",
	})
}

// GetGoodInfo 获取商品详情接口
// 登录用户访问时记录一次去重浏览，匿名访问只读计数
func (g *GroupBuyController) GetGoodInfo(c *gin.Context) {
	// 从路径参数中获取商品ID
	id := c.Param("id")
	goodsId, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid good ID",
		})
		return
	}

	// 调用服务层获取商品信息，查不到与存储故障分别映射404/503
	good, err := g.GroupService.FindGoodById(goodsId)
	if err != nil {
		writeError(c, err, "Failed to query product data")
		return
	}

	userId := currentUserId(c)

	// 记录浏览并读取当前浏览量
	viewCount, err := g.GroupService.RecordGoodsView(goodsId, userId)
	if err != nil {
		writeError(c, err, "Failed to record goods view")
		return
	}

	counts, err := g.GroupService.GetGoodsCounts(goodsId)
	if err != nil {
		writeError(c, err, "Failed to query goods counts")
		return
	}

	data := gin.H{
		"good_info":  good,
		"view_count": viewCount,
		"love_count": counts.LoveCount,
	}

	// 登录用户附加收藏状态
	if userId > 0 {
		loved, err := g.GroupService.IsGoodsLoved(goodsId, userId)
		if err == nil {
			data["is_love"] = loved
		}
	}

	// 商品若有拼团模板则一并返回
	if template, err := g.GroupService.FindTemplateByGoodsId(goodsId); err == nil {
		data["group_buy"] = template
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"data":    data,
		"message": "Product data queried successfully",
	})
}

// GetLoveMembers 查询商品收藏用户列表接口
func (g *GroupBuyController) GetLoveMembers(c *gin.Context) {
	goodsId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid good ID",
		})
		return
	}

	members, err := g.GroupService.GetLoveMembers(goodsId)
	if err != nil {
		writeError(c, err, "Failed to query love members")
		return
	}

	data := gin.H{
		"members":    members,
		"love_count": len(members),
	}

	// 登录用户附加本人收藏状态
	if userId := currentUserId(c); userId > 0 {
		loved, err := g.GroupService.IsGoodsLoved(goodsId, userId)
		if err == nil {
			data["is_love"] = loved
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"data":    data,
		"message": "Love members queried successfully",
	})
}

// ToggleLove 切换商品收藏状态接口
func (g *GroupBuyController) ToggleLove(c *gin.Context) {
	goodsId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid good ID",
		})
		return
	}

	userId := currentUserId(c)

	// 请求体携带用户摘要快照，允许为空
	var req orderRequest
	_ = c.ShouldBindJSON(&req)

	summary := model.UserSummary{
		UserId:    userId,
		UserName:  req.UserName,
		AvatarUrl: req.AvatarUrl,
	}

	loved, err := g.GroupService.ToggleGoodsLove(goodsId, userId, summary)
	if err != nil {
		writeError(c, err, "Failed to toggle love")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"goods_id": goodsId,
			"is_love":  loved,
		},
		"message": "Love toggled successfully",
	})
}

// CreateOrder 创建普通订单接口
func (g *GroupBuyController) CreateOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid order request body",
		})
		return
	}

	order, err := g.GroupService.CreateSimpleOrder(currentUserId(c), req.GoodsId, req.payload())
	if err != nil {
		writeError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"order": order,
		},
		"message": "Order created successfully",
	})
}

// GetOrder 查询订单接口
func (g *GroupBuyController) GetOrder(c *gin.Context) {
	orderId := c.Param("id")
	if orderId == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "missing order id",
			"message": "Order ID required",
		})
		return
	}

	order, err := g.GroupService.GetOrderById(orderId)
	if err != nil {
		writeError(c, err, "Failed to query order")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"order": order,
		},
		"message": "Order queried successfully",
	})
}

// CreateGroupBuy 开新团接口
func (g *GroupBuyController) CreateGroupBuy(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid group buy request body",
		})
		return
	}

	snapshot, err := g.GroupService.CreateGroupBuy(c.Request.Context(), currentUserId(c), req.GoodsId, req.payload())
	if err != nil {
		writeError(c, err, "Failed to create group buy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"group": snapshot,
		},
		"message": "Group buy created successfully",
	})
}

// JoinGroupBuy 参加已有团接口
func (g *GroupBuyController) JoinGroupBuy(c *gin.Context) {
	groupId := c.Param("id")
	if groupId == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "missing group id",
			"message": "Group ID required",
		})
		return
	}

	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   err.Error(),
			"message": "Invalid group buy request body",
		})
		return
	}

	snapshot, err := g.GroupService.JoinGroupBuy(c.Request.Context(), currentUserId(c), groupId, req.payload())
	if err != nil {
		writeError(c, err, "Failed to join group buy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"group": snapshot,
		},
		"message": "Group buy joined successfully",
	})
}

// GetGroupBuyView 查询团状态接口
func (g *GroupBuyController) GetGroupBuyView(c *gin.Context) {
	groupId := c.Param("id")
	if groupId == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "missing group id",
			"message": "Group ID required",
		})
		return
	}

	snapshot, err := g.GroupService.GetGroupBuyView(groupId)
	if err != nil {
		writeError(c, err, "Failed to query group buy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"group": snapshot,
		},
		"message": "Group buy queried successfully",
	})
}

// SetGroupBuyEnabled 设置拼团开关状态接口
func (g *GroupBuyController) SetGroupBuyEnabled(c *gin.Context) {
	// 获取启用状态参数
	enabledStr := c.Query("enabled")
	enabled, err := strconv.ParseBool(enabledStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "invalid enabled parameter",
			"message": "Enabled parameter must be true or false",
		})
		return
	}

	if err := g.GroupService.SetGroupBuyEnabled(enabled); err != nil {
		writeError(c, err, "Failed to set group buy enabled")
		return
	}

	// 返回设置结果
	status := "enabled"
	if !enabled {
		status = "disabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "Group buy system " + status,
	})
}

// SetRateLimit 设置限流配置接口
func (g *GroupBuyController) SetRateLimit(c *gin.Context) {
	// 获取限流值参数
	limitStr := c.Query("limit")
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "invalid limit parameter",
			"message": "Limit must be a positive integer",
		})
		return
	}

	if err := g.GroupService.SetRateLimit(limit); err != nil {
		writeError(c, err, "Failed to set rate limit")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "Rate limit set to " + limitStr + " requests per minute",
	})
}

// AddToBlacklist 添加用户到黑名单接口
func (g *GroupBuyController) AddToBlacklist(c *gin.Context) {
	// 获取用户ID参数
	userIdStr := c.Query("user_id")
	userId, err := strconv.ParseInt(userIdStr, 10, 64)
	if err != nil || userId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "invalid user_id parameter",
			"message": "User ID must be a positive integer",
		})
		return
	}

	// 获取原因参数
	reason := c.Query("reason")
	if reason == "" {
		reason = "Manual addition" // 默认原因
	}

	// 获取持续时间参数
	durationStr := c.Query("duration")
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		duration = 24 * time.Hour // 默认24小时
	}

	if err := g.GroupService.AddToBlacklist(userId, reason, duration); err != nil {
		writeError(c, err, "Failed to add user to blacklist")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "User added to blacklist successfully",
	})
}

// RemoveFromBlacklist 从黑名单移除用户接口
func (g *GroupBuyController) RemoveFromBlacklist(c *gin.Context) {
	userIdStr := c.Query("user_id")
	userId, err := strconv.ParseInt(userIdStr, 10, 64)
	if err != nil || userId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "invalid user_id parameter",
			"message": "User ID must be a positive integer",
		})
		return
	}

	if err := g.GroupService.RemoveFromBlacklist(userId); err != nil {
		writeError(c, err, "Failed to remove user from blacklist")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "User removed from blacklist successfully",
	})
}

// GetBlacklist 获取黑名单列表接口
func (g *GroupBuyController) GetBlacklist(c *gin.Context) {
	blacklist, err := g.GroupService.GetBlacklist()
	if err != nil {
		writeError(c, err, "Failed to get blacklist")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"blacklist": blacklist,
		},
		"message": "Blacklist retrieved successfully",
	})
}

// ResetGroup 重置团实例接口
func (g *GroupBuyController) ResetGroup(c *gin.Context) {
	groupId := c.Query("group_id")
	if groupId == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    -1,
			"error":   "missing group_id parameter",
			"message": "Group ID is required",
		})
		return
	}

	if err := g.GroupService.ResetGroup(groupId); err != nil {
		writeError(c, err, "Failed to reset group")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "Group reset successfully: " + groupId,
	})
}
