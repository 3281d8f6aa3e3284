package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNewGroupId 测试团ID生成格式
func TestNewGroupId(t *testing.T) {
	groupId, err := NewGroupId()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(groupId, "PT"))
	assert.Equal(t, 18, len(groupId)) // PT前缀 + 16位随机串
}

// TestNewOrderId 测试订单ID生成格式
func TestNewOrderId(t *testing.T) {
	orderId, err := NewOrderId()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(orderId, "SO"))
	assert.Equal(t, 18, len(orderId))
}

// TestGenerateRandomString_Unique 测试随机串不重复
func TestGenerateRandomString_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateRandomString(16)
		assert.NoError(t, err)
		assert.Equal(t, 16, len(token))
		assert.False(t, seen[token], "random string collision")
		seen[token] = true
	}
}

// TestRedisKeyHelpers 测试Redis键构造
func TestRedisKeyHelpers(t *testing.T) {
	assert.Equal(t, "groupbuy:goodsview:user:7:42", ViewDedupKey(7, 42))
	assert.Equal(t, "groupbuy:goodslove:42", LoveKey(42))
	assert.Equal(t, "groupbuy:goodsview:view_count", KeyViewCountZSet)
}

// TestLuaScriptsLoaded 测试包初始化时Lua脚本已加载
func TestLuaScriptsLoaded(t *testing.T) {
	assert.NotNil(t, actionRateLimitScript)
	assert.NotNil(t, loveToggleScript)
}
