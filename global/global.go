package global

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"groupbuy_system/config"
	"groupbuy_system/model"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 全局变量定义
var (
	DBClient           *gorm.DB             // MySQL数据库客户端
	RedisClusterClient *redis.ClusterClient // Redis集群客户端
	KafkaWriter        *kafka.Writer        // Kafka生产者
	KafkaReader        *kafka.Reader        // Kafka消费者
	EtcdClient         *clientv3.Client     // Etcd客户端
)

// Etcd相关配置键常量
const (
	EtcdKeyGroupBuyEnabled = "/groupbuy/config/enabled"    // 拼团开关配置键
	EtcdKeyRateLimit       = "/groupbuy/config/rate_limit" // 限流配置键
	EtcdKeyBlacklist       = "/groupbuy/blacklist/"        // 用户黑名单前缀
	EtcdKeyGroupLock       = "/groupbuy/lock/group/"       // 团级分布式锁前缀
)

// InitMySQL 初始化MySQL数据库连接
func InitMySQL() {
	cfg := config.AppConfig.Database
	// 构建数据库连接字符串
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	var err error
	// 创建数据库连接
	DBClient, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn), // 设置日志级别
		TranslateError: true,                                // 将驱动错误翻译为gorm错误，供唯一索引冲突识别
	})
	if err != nil {
		slog.Error("failed to connect database",
			"error", err,
			"host", cfg.Host,
			"port", cfg.Port,
			"database", cfg.Name,
		)
		os.Exit(1)
	}

	// 获取底层sql.DB对象以设置连接池参数
	sqlDB, err := DBClient.DB()
	if err != nil {
		slog.Error("failed to get sql.DB", "error", err)
		os.Exit(1)
	}

	// 设置连接池参数
	sqlDB.SetMaxOpenConns(100)                // 最大打开连接数
	sqlDB.SetMaxIdleConns(20)                 // 最大空闲连接数
	sqlDB.SetConnMaxLifetime(3 * time.Minute) // 连接最大生命周期

	slog.Info("MySQL connection established successfully",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)

	// 初始化数据库表结构和测试数据
	if err := initDatabase(); err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
}

// InitRedis 初始化Redis集群连接
func InitRedis() {
	cfg := config.AppConfig.Redis
	nodes := cfg.GetRedisClusterNodes() // 获取Redis集群节点列表

	// 创建Redis集群客户端
	RedisClusterClient = redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        nodes,        // 集群节点地址
		Password:     cfg.Password, // 访问密码
		PoolSize:     1000,         // 连接池大小
		MinIdleConns: 10,           // 最小空闲连接数
	})

	// 测试连接是否成功
	if _, err := RedisClusterClient.Ping(context.Background()).Result(); err != nil {
		slog.Error("failed to connect redis cluster",
			"error", err,
			"nodes", nodes,
		)
		os.Exit(1)
	}

	slog.Info("Redis cluster connected successfully", "nodes", nodes)
}

// InitKafka 初始化Kafka生产者和消费者
func InitKafka() {
	cfg := config.AppConfig.Kafka
	brokers := cfg.GetKafkaBrokers() // 获取Kafka broker地址列表

	// 初始化Kafka生产者
	KafkaWriter = &kafka.Writer{
		Addr:     kafka.TCP(brokers...), // broker地址
		Topic:    cfg.Topic,             // 主题名称
		Balancer: &kafka.LeastBytes{},   // 负载均衡策略
		Async:    true,                  // 异步模式
	}

	// 初始化Kafka消费者
	KafkaReader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,     // broker地址
		Topic:    cfg.Topic,   // 主题名称
		GroupID:  cfg.GroupID, // 消费者组ID
		MinBytes: 10e3,        // 最小读取字节数
		MaxBytes: 10e6,        // 最大读取字节数
	})

	slog.Info("Kafka clients initialized",
		"brokers", brokers,
		"topic", cfg.Topic,
		"group_id", cfg.GroupID,
	)
}

// InitEtcd 初始化Etcd客户端连接
func InitEtcd() {
	cfg := config.AppConfig.Etcd
	endpoints := cfg.GetEtcdEndpoints() // 获取Etcd服务端点

	// 创建Etcd客户端
	client, err := clientv3.New(clientv3.Config{
		Endpoints:            endpoints,                                    // 服务端点
		DialTimeout:          time.Duration(cfg.DialTimeout) * time.Second, // 连接超时时间
		Username:             cfg.Username,                                 // 认证用户名
		Password:             cfg.Password,                                 // 认证密码
		DialKeepAliveTime:    10 * time.Second,
		DialKeepAliveTimeout: 3 * time.Second,
		MaxCallSendMsgSize:   10 * 1024 * 1024,
		MaxCallRecvMsgSize:   10 * 1024 * 1024,
	})
	if err != nil {
		slog.Error("failed to connect etcd",
			"error", err,
			"endpoints", endpoints,
		)
		os.Exit(1)
	}

	// 检查Etcd服务状态
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := client.Status(ctx, endpoints[0]); err != nil {
		slog.Error("failed to get etcd status", "error", err)
		os.Exit(1)
	}

	EtcdClient = client
	slog.Info("Etcd connected successfully", "endpoints", endpoints)

	// 初始化Etcd中的默认配置
	initEtcdConfig()
}

// initEtcdConfig 初始化Etcd中的默认配置
func initEtcdConfig() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 定义默认配置项
	defaultConfigs := map[string]string{
		EtcdKeyGroupBuyEnabled: "true", // 默认开启拼团
		EtcdKeyRateLimit:       "30",   // 默认限流30次/分钟
	}

	// 遍历并设置默认配置
	for key, value := range defaultConfigs {
		// 检查配置是否已存在
		resp, err := EtcdClient.Get(ctx, key)
		if err != nil {
			slog.Warn("Failed to check etcd key", "key", key, "error", err)
			continue
		}

		// 如果配置不存在，则设置默认值
		if len(resp.Kvs) == 0 {
			_, err := EtcdClient.Put(ctx, key, value)
			if err != nil {
				slog.Warn("Failed to set etcd config", "key", key, "error", err)
			} else {
				slog.Info("Set default etcd config", "key", key, "value", value)
			}
		}
	}
}

// initDatabase 初始化数据库表结构和测试数据
func initDatabase() error {
	// 自动迁移数据库表
	if err := DBClient.AutoMigrate(
		&model.Goods{},
		&model.Category{},
		&model.GroupBuyTemplate{},
		&model.GroupInstance{},
		&model.Participation{},
		&model.SimpleOrder{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate tables: %v", err)
	}

	// 插入测试数据
	return insertTestData(200)
}

// insertTestData 向数据库插入测试数据
func insertTestData(count int) error {
	// 检查是否已有数据
	var existingCount int64
	if err := DBClient.Model(&model.Goods{}).Count(&existingCount).Error; err != nil {
		return err
	}
	if existingCount > 0 {
		slog.Info("Database already contains data, skipping test data insertion")
		return nil
	}

	// 在事务中同时插入分类、商品和拼团模板数据
	return DBClient.Transaction(func(tx *gorm.DB) error {
		categories := generateCategoryData()
		if err := tx.CreateInBatches(categories, len(categories)).Error; err != nil {
			return fmt.Errorf("failed to insert category data: %v", err)
		}

		// 生成商品数据
		goods := generateGoodsData(count, categories)
		if err := tx.CreateInBatches(goods, count).Error; err != nil {
			return fmt.Errorf("failed to insert goods data: %v", err)
		}
		// 生成拼团模板数据（直接使用内存中的商品数据）
		templates := generateTemplateData(goods)
		if err := tx.CreateInBatches(templates, len(templates)).Error; err != nil {
			return fmt.Errorf("failed to insert group buy template data: %v", err)
		}

		slog.Info("Test data inserted successfully",
			"category_count", len(categories),
			"goods_count", count,
			"template_count", len(templates),
		)
		return nil
	})
}

// generateCategoryData 生成商品分类测试数据
func generateCategoryData() []model.Category {
	names := []string{"Fruit", "Snack", "Drink", "Daily", "Fresh"}
	categories := make([]model.Category, len(names))
	for i, name := range names {
		categories[i] = model.Category{
			CategoryId: int64(i + 1),
			Name:       name,
		}
	}
	return categories
}

// generateGoodsData 生成商品测试数据
func generateGoodsData(count int, categories []model.Category) []model.Goods {
	goods := make([]model.Goods, count)

	// 使用随机数生成器创建随机数据
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range goods {
		originalPrice := float64(r.Intn(180) + 20) // 原始价格(20-200)
		discount := 0.6 + r.Float64()*0.35         // 折扣(0.6-0.95)
		category := categories[r.Intn(len(categories))]
		serialNumber := r.Intn(1000) + 1 // 序列号

		goods[i] = model.Goods{
			GoodsId:        int64(1000 + i),                                         // 商品ID
			Name:           fmt.Sprintf("%s Goods-%d", category.Name, serialNumber), // 名称
			SubTitle:       fmt.Sprintf("High-quality %s goods", category.Name),     // 副标题
			OriginalPrice:  originalPrice,                                           // 原价
			NowPrice:       originalPrice * discount,                                // 现价
			IsFreeDelivery: int32(r.Intn(2)),                                        // 是否包邮(0或1)
			CategoryId:     category.CategoryId,                                     // 分类ID
			GoodsStatus:    1,                                                       // 默认上架
		}
	}
	return goods
}

// generateTemplateData 生成拼团模板测试数据，约一半商品可拼团
func generateTemplateData(goods []model.Goods) []model.GroupBuyTemplate {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	templates := make([]model.GroupBuyTemplate, 0, len(goods)/2)

	for i, good := range goods {
		if i%2 != 0 {
			continue
		}
		// 确保拼团活动在当前时间有效
		beginTime := time.Now().Add(-time.Duration(r.Intn(60)) * time.Minute) // 0-60分钟前开始
		endTime := time.Now().Add(time.Duration(r.Intn(48)+24) * time.Hour)   // 24-72小时后结束

		templates = append(templates, model.GroupBuyTemplate{
			TemplateId:     int64(2000 + i),
			GoodsId:        good.GoodsId,
			Capacity:       int64(r.Intn(4) + 2),      // 2-5人成团
			EffectiveHours: int64(r.Intn(24) + 1),     // 1-24小时有效
			GroupBuyPrice:  good.NowPrice * 0.8,       // 拼团价为现价8折
			BeginTime:      beginTime,
			EndTime:        endTime,
		})
	}
	return templates
}

// CloseMysql 关闭MySQL数据库连接
func CloseMysql() {
	if DBClient != nil {
		if sqlDB, err := DBClient.DB(); err == nil {
			sqlDB.Close()
			slog.Info("MySQL connection closed")
		}
	}
}

// CloseRedis 关闭Redis集群连接
func CloseRedis() {
	if RedisClusterClient != nil {
		RedisClusterClient.Close()
		slog.Info("Redis cluster connection closed")
	}
}

// CloseKafka 关闭Kafka生产者和消费者
func CloseKafka() {
	if KafkaWriter != nil {
		KafkaWriter.Close()
	}
	if KafkaReader != nil {
		KafkaReader.Close()
	}
	slog.Info("Kafka clients closed")
}

// CloseEtcd 关闭Etcd客户端连接
func CloseEtcd() {
	if EtcdClient != nil {
		EtcdClient.Close()
		slog.Info("Etcd connection closed")
	}
}
