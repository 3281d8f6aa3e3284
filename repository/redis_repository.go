package repository

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"groupbuy_system/global"
	"groupbuy_system/model"

	"github.com/go-redis/redis/v8"
)

// RedisRepository Redis缓存仓库层
// 作为共享KV存储的薄封装，负责用户令牌、互动计数、收藏集合与限流等原子操作
type RedisRepository struct {
	client *redis.ClusterClient // Redis集群客户端
}

// Redis键命名规约，视作存储层schema的一部分：namespace:entity-type:entity-id:field
const (
	KeyViewCountZSet    = "groupbuy:goodsview:view_count"    // 全量浏览计数zset，member为商品ID
	keyViewDedupPattern = "groupbuy:goodsview:user:%d:%d"    // 用户浏览去重标记：userId, goodsId
	keyLovePattern      = "groupbuy:goodslove:%d"            // 商品收藏hash：goodsId
	keyRateLimitPattern = "groupbuy:ratelimit:%d:%s:%d"      // 限流桶：userId, action, bucket
	keyUserTokenPattern = "user_token:%s"                    // 用户令牌：token
)

// 包级变量，存储所有Lua脚本
var (
	actionRateLimitScript *redis.Script
	loveToggleScript      *redis.Script
)

// init 函数在包初始化时自动调用，用于加载Lua脚本
func init() {
	// 加载动作限流脚本
	rateLimitScript, err := loadLuaScript("action_rate_limit.lua")
	if err != nil {
		slog.Error("Failed to load action rate limit Lua script", "error", err)
		panic(fmt.Sprintf("Failed to load action rate limit Lua script: %v", err))
	}
	actionRateLimitScript = redis.NewScript(rateLimitScript)

	// 加载收藏切换脚本
	toggleScript, err := loadLuaScript("love_toggle.lua")
	if err != nil {
		slog.Error("Failed to load love toggle Lua script", "error", err)
		panic(fmt.Sprintf("Failed to load love toggle Lua script: %v", err))
	}
	loveToggleScript = redis.NewScript(toggleScript)

	slog.Info("All Lua scripts loaded successfully")
}

// NewRedisRepository 创建Redis仓库实例
func NewRedisRepository() *RedisRepository {
	return &RedisRepository{
		client: global.RedisClusterClient,
	}
}

// loadLuaScript 从文件加载Lua脚本
func loadLuaScript(filename string) (string, error) {
	// 获取当前文件所在目录
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get current file path")
	}

	// 构建脚本文件路径（脚本文件在项目的scripts目录下）
	scriptPath := filepath.Join(filepath.Dir(currentFile), "..", "scripts", filename)

	// 读取脚本文件内容
	content, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", fmt.Errorf("failed to read Lua script file %s: %v", scriptPath, err)
	}
	slog.Info("Lua script loaded from file", "path", scriptPath, "filename", filename)
	return string(content), nil
}

// ViewDedupKey 构造浏览去重标记键
func ViewDedupKey(userId, goodsId int64) string {
	return fmt.Sprintf(keyViewDedupPattern, userId, goodsId)
}

// LoveKey 构造商品收藏hash键
func LoveKey(goodsId int64) string {
	return fmt.Sprintf(keyLovePattern, goodsId)
}

// Incr 原子递增计数键，返回递增后的值
func (r *RedisRepository) Incr(key string) (int64, error) {
	return r.client.Incr(context.Background(), key).Result()
}

// ZIncrBy 原子递增zset成员分值，返回递增后的分值
func (r *RedisRepository) ZIncrBy(key string, increment float64, member string) (float64, error) {
	return r.client.ZIncrBy(context.Background(), key, increment, member).Result()
}

// ZScore 查询zset成员分值，成员不存在时返回0
func (r *RedisRepository) ZScore(key, member string) (float64, error) {
	score, err := r.client.ZScore(context.Background(), key, member).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil // 成员不存在时按0处理
		}
		return 0, err
	}
	return score, nil
}

// HSet 设置hash字段
func (r *RedisRepository) HSet(key, field, value string) error {
	return r.client.HSet(context.Background(), key, field, value).Err()
}

// HGet 读取hash字段
func (r *RedisRepository) HGet(key, field string) (string, error) {
	return r.client.HGet(context.Background(), key, field).Result()
}

// HDel 删除hash字段
func (r *RedisRepository) HDel(key, field string) error {
	return r.client.HDel(context.Background(), key, field).Err()
}

// HExists 判断hash字段是否存在
func (r *RedisRepository) HExists(key, field string) (bool, error) {
	return r.client.HExists(context.Background(), key, field).Result()
}

// HKeys 获取hash全部字段名
func (r *RedisRepository) HKeys(key string) ([]string, error) {
	return r.client.HKeys(context.Background(), key).Result()
}

// HLen 获取hash字段数量
func (r *RedisRepository) HLen(key string) (int64, error) {
	return r.client.HLen(context.Background(), key).Result()
}

// SetNX 带TTL的条件写入，键不存在时写入成功并返回true
// 并发调用只有一个成功，是去重标记的原子原语
func (r *RedisRepository) SetNX(key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(context.Background(), key, value, ttl).Result()
}

// Exists 判断键是否存在
func (r *RedisRepository) Exists(key string) (bool, error) {
	n, err := r.client.Exists(context.Background(), key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ActionRateLimit 动作限流检查（桶式滑动窗口）
// 时间按windowSeconds切桶，放行时对当前桶原子计数，桶自带过期自动清退。
// 桶边界处最坏可在windowSeconds墙钟时间内通过2倍maxCount次操作，属有意的精度折中
func (r *RedisRepository) ActionRateLimit(userId int64, action string, windowSeconds, maxCount int64) (bool, error) {
	bucket := time.Now().Unix() / windowSeconds
	key := fmt.Sprintf(keyRateLimitPattern, userId, action, bucket)

	// 使用预加载的Lua脚本执行限流逻辑，桶TTL取2倍窗口确保跨桶查询期间不丢数据
	result, err := actionRateLimitScript.Run(context.Background(), r.client,
		[]string{key}, maxCount, windowSeconds*2).Result()
	if err != nil {
		return false, fmt.Errorf("execute rate limit script failed: %v", err)
	}

	allowed := result.(int64) == 1
	if !allowed {
		slog.Info("Action rate limit exceeded",
			"user_id", userId,
			"action", action,
			"window_seconds", windowSeconds,
			"max_count", maxCount,
		)
	}
	return allowed, nil
}

// ToggleLoveMember 原子切换收藏集合成员
// 返回切换后是否为收藏状态：true-本次加入，false-本次移除
func (r *RedisRepository) ToggleLoveMember(goodsId, userId int64, summaryJSON string) (bool, error) {
	key := LoveKey(goodsId)
	field := strconv.FormatInt(userId, 10)

	result, err := loveToggleScript.Run(context.Background(), r.client,
		[]string{key}, field, summaryJSON).Result()
	if err != nil {
		return false, fmt.Errorf("execute love toggle script failed: %v", err)
	}

	loved := result.(int64) == 1
	slog.Info("Love member toggled",
		"goods_id", goodsId,
		"user_id", userId,
		"loved", loved,
	)
	return loved, nil
}

// GenerateUserToken 生成用户认证令牌并存储到Redis
// 令牌有效期为24小时
func (r *RedisRepository) GenerateUserToken(userId int64) (string, error) {
	// 生成随机令牌字符串
	token, err := GenerateRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate secure token failed: %v", err)
	}
	expireAt := time.Now().Add(24 * time.Hour)

	// 构建令牌数据结构
	tokenData := model.RedisToken{
		Token:     token,
		UserId:    userId,
		ExpireAt:  expireAt,
		CreatedAt: time.Now(),
	}

	// 序列化令牌数据为JSON
	jsonData, err := json.Marshal(tokenData)
	if err != nil {
		return "", fmt.Errorf("marshal token data failed: %v", err)
	}

	// 存储令牌到Redis，设置过期时间
	key := fmt.Sprintf(keyUserTokenPattern, token)
	err = r.client.Set(context.Background(), key, jsonData, time.Until(expireAt)).Err()
	if err != nil {
		return "", fmt.Errorf("store token to redis failed: %v", err)
	}

	slog.Info("User token generated",
		"user_id", userId,
		"token_prefix", token[:8],
		"expire_at", expireAt,
	)
	return token, nil
}

// VerifyUserToken 验证用户令牌有效性并返回用户ID
func (r *RedisRepository) VerifyUserToken(token string) (int64, error) {
	if len(token) < 8 {
		return 0, errors.New("token malformed")
	}
	key := fmt.Sprintf(keyUserTokenPattern, token)
	data, err := r.client.Get(context.Background(), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			slog.Warn("User token not found", "token_prefix", token[:8])
			return 0, errors.New("token not found")
		}
		return 0, fmt.Errorf("get token from redis failed: %v", err)
	}

	// 反序列化令牌数据
	var tokenData model.RedisToken
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return 0, fmt.Errorf("unmarshal token data failed: %v", err)
	}

	// 检查令牌是否过期
	if time.Now().After(tokenData.ExpireAt) {
		r.client.Del(context.Background(), key) // 删除过期令牌
		slog.Warn("User token expired", "token_prefix", token[:8], "user_id", tokenData.UserId)
		return 0, errors.New("token expired")
	}

	return tokenData.UserId, nil
}

// GenerateRandomString 生成指定长度的随机字符串
// 用于生成团ID、订单ID等随机标识
func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bytes := make([]byte, length)

	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %v", err)
	}
	for i := range bytes {
		bytes[i] = charset[bytes[i]%byte(len(charset))]
	}
	return string(bytes), nil
}
