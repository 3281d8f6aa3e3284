package router

import (
	"groupbuy_system/web/controller"
	"groupbuy_system/web/middleware"

	"github.com/gin-gonic/gin"
)

// InitRouter 初始化并返回Gin路由引擎
func InitRouter() *gin.Engine {
	// 创建默认Gin引擎实例
	r := gin.Default()

	// 初始化控制器实例
	groupController := controller.NewGroupBuyController()

	// 创建API路由组，所有接口前缀为/api
	api := r.Group("/api")
	{
		// 认证相关接口
		auth := api.Group("/auth")
		{
			auth.GET("/create_user_token", groupController.GenerateUserToken) // 生成用户令牌接口
			auth.GET("/verify_user_token", groupController.VerifyToken)       // 验证用户令牌接口
		}

		// 商品信息接口
		api.GET("/goods", groupController.ListGoods)                                            // 商品列表接口
		api.GET("/goods/categories", groupController.ListCategories)                            // 商品分类接口
		api.GET("/goods/:id", middleware.OptionalAuthMiddleware(), groupController.GetGoodInfo) // 商品详情接口，登录用户记录浏览

		// 收藏相关接口
		api.GET("/goods/:id/love", middleware.OptionalAuthMiddleware(), groupController.GetLoveMembers) // 收藏用户列表接口
		api.POST("/goods/:id/love", middleware.AuthMiddleware(), groupController.ToggleLove)            // 切换收藏状态接口

		// 普通订单接口
		api.POST("/order", middleware.AuthMiddleware(), groupController.CreateOrder) // 创建订单接口
		api.GET("/order/:id", middleware.AuthMiddleware(), groupController.GetOrder) // 查询订单接口

		// 拼团相关接口
		api.GET("/pintuan/:id", groupController.GetGroupBuyView)                                // 查询团状态接口
		api.POST("/pintuan/new", middleware.AuthMiddleware(), groupController.CreateGroupBuy)   // 开新团接口
		api.POST("/pintuan/:id/join", middleware.AuthMiddleware(), groupController.JoinGroupBuy) // 参团接口

		// 管理接口组，需要管理员权限
		admin := api.Group("/admin", middleware.AdminMiddleware())
		{
			// 团实例重置接口
			admin.POST("/reset_group", groupController.ResetGroup)

			// Etcd配置管理接口
			admin.POST("/config/groupbuy/enable", groupController.SetGroupBuyEnabled) // 设置拼团开关状态
			admin.POST("/config/rate_limit", groupController.SetRateLimit)            // 设置限流配置

			// 黑名单管理接口
			admin.POST("/blacklist/add", groupController.AddToBlacklist)       // 添加用户到黑名单
			admin.POST("/blacklist/remove", groupController.RemoveFromBlacklist) // 移除黑名单用户
			admin.GET("/blacklist", groupController.GetBlacklist)              // 获取黑名单列表
		}
	}
	return r
}
