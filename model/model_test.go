package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestGroupInstance_ExpireTime 测试过期时间派生
func TestGroupInstance_ExpireTime(t *testing.T) {
	createTime := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	group := GroupInstance{CreateTime: createTime}

	assert.Equal(t, createTime.Add(24*time.Hour), group.ExpireTime(24))
	assert.Equal(t, createTime.Add(1*time.Hour), group.ExpireTime(1))
}

// TestGroupInstance_Status 测试团状态派生
func TestGroupInstance_Status(t *testing.T) {
	createTime := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	// 未满未过期
	open := GroupInstance{JoinCount: 1, Capacity: 3, CreateTime: createTime}
	assert.Equal(t, GroupStatusOpen, open.Status(24, createTime.Add(time.Hour)))

	// 满员为终态，即使同时已过期也优先返回满员
	full := GroupInstance{JoinCount: 3, Capacity: 3, CreateTime: createTime}
	assert.Equal(t, GroupStatusFull, full.Status(24, createTime.Add(time.Hour)))
	assert.Equal(t, GroupStatusFull, full.Status(24, createTime.Add(48*time.Hour)))

	// 未满且已过期
	expired := GroupInstance{JoinCount: 2, Capacity: 3, CreateTime: createTime}
	assert.Equal(t, GroupStatusExpired, expired.Status(24, createTime.Add(25*time.Hour)))

	// 恰好到达过期时刻视为已过期
	assert.Equal(t, GroupStatusExpired, expired.Status(24, createTime.Add(24*time.Hour)))
}

// TestOrderPayload_Validate 测试订单载荷校验
func TestOrderPayload_Validate(t *testing.T) {
	valid := &OrderPayload{Quantity: 1, UserName: "alice"}
	assert.NoError(t, valid.Validate())

	zero := &OrderPayload{Quantity: 0}
	assert.ErrorIs(t, zero.Validate(), ErrInvalidPayload)

	negative := &OrderPayload{Quantity: -2}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidPayload)

	var nilPayload *OrderPayload
	assert.ErrorIs(t, nilPayload.Validate(), ErrInvalidPayload)
}
