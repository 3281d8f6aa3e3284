package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"groupbuy_system/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// mockGroupStore 模拟拼团持久化存储
type mockGroupStore struct {
	mock.Mock
}

func (m *mockGroupStore) GetGroupById(groupId string) (model.GroupInstance, error) {
	args := m.Called(groupId)
	return args.Get(0).(model.GroupInstance), args.Error(1)
}

func (m *mockGroupStore) HasParticipant(groupId string, userId int64) (bool, error) {
	args := m.Called(groupId, userId)
	return args.Bool(0), args.Error(1)
}

func (m *mockGroupStore) ListParticipants(groupId string) ([]model.Participation, error) {
	args := m.Called(groupId)
	return args.Get(0).([]model.Participation), args.Error(1)
}

func (m *mockGroupStore) CreateGroupInstance(tx *gorm.DB, group *model.GroupInstance) error {
	args := m.Called(tx, group)
	return args.Error(0)
}

func (m *mockGroupStore) OccIncrJoinCount(tx *gorm.DB, groupId string, version int64) (int64, error) {
	args := m.Called(tx, groupId, version)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockGroupStore) AddParticipation(tx *gorm.DB, participation *model.Participation) error {
	args := m.Called(tx, participation)
	return args.Error(0)
}

func (m *mockGroupStore) AddSimpleOrder(tx *gorm.DB, order *model.SimpleOrder) error {
	args := m.Called(tx, order)
	return args.Error(0)
}

// WithTransaction 模拟数据库事务
// mock未设置错误时执行传入的事务函数并透传其返回值
func (m *mockGroupStore) WithTransaction(fn func(tx *gorm.DB) error) error {
	args := m.Called(fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

// mockTemplateStore 模拟拼团模板查询
type mockTemplateStore struct {
	mock.Mock
}

func (m *mockTemplateStore) FindTemplateById(templateId int64) (model.GroupBuyTemplate, error) {
	args := m.Called(templateId)
	return args.Get(0).(model.GroupBuyTemplate), args.Error(1)
}

// allowAllLimiter 始终放行的限流器
type allowAllLimiter struct{}

func (allowAllLimiter) IsActionAllowed(userId int64, action string, windowSeconds, maxCount int64) (bool, error) {
	return true, nil
}

// denyAllLimiter 始终拒绝的限流器
type denyAllLimiter struct{}

func (denyAllLimiter) IsActionAllowed(userId int64, action string, windowSeconds, maxCount int64) (bool, error) {
	return false, nil
}

// nopPublisher 丢弃所有消息的事件发布器
type nopPublisher struct{}

func (nopPublisher) SendGroupEventMessage(ctx context.Context, event *model.GroupEventMessage) error {
	return nil
}

// newTestHandler 构造使用模拟依赖的拼团处理器
func newTestHandler(groupRepo GroupStore, templateRepo TemplateStore, limiter RateLimiter) *GroupBuyHandler {
	return &GroupBuyHandler{
		groupRepo:    groupRepo,
		templateRepo: templateRepo,
		limiter:      limiter,
		publisher:    nopPublisher{},
	}
}

// testTemplate 测试用拼团模板：3人团，24小时有效
func testTemplate() model.GroupBuyTemplate {
	return model.GroupBuyTemplate{
		TemplateId:     100,
		GoodsId:        1,
		Capacity:       3,
		EffectiveHours: 24,
		GroupBuyPrice:  79.9,
	}
}

// TestCreateGroup_Success 测试开团成功
func TestCreateGroup_Success(t *testing.T) {
	groupRepo := &mockGroupStore{}
	templateRepo := &mockTemplateStore{}
	h := newTestHandler(groupRepo, templateRepo, allowAllLimiter{})
	template := testTemplate()

	// 建团事务内的三次写入全部成功
	groupRepo.On("WithTransaction", mock.AnythingOfType("func(*gorm.DB) error")).Return(nil)
	groupRepo.On("CreateGroupInstance", mock.Anything, mock.Anything).Return(nil)
	groupRepo.On("AddParticipation", mock.Anything, mock.Anything).Return(nil)
	groupRepo.On("AddSimpleOrder", mock.Anything, mock.Anything).Return(nil)

	// 建团后读取快照
	groupRepo.On("GetGroupById", mock.AnythingOfType("string")).Return(model.GroupInstance{
		GroupId:       "PTtest",
		TemplateId:    template.TemplateId,
		GoodsId:       template.GoodsId,
		CreatorUserId: 7,
		JoinCount:     1,
		Capacity:      template.Capacity,
		CreateTime:    time.Now(),
	}, nil)
	templateRepo.On("FindTemplateById", template.TemplateId).Return(template, nil)
	groupRepo.On("ListParticipants", mock.AnythingOfType("string")).Return([]model.Participation{
		{GroupId: "PTtest", UserId: 7, UserName: "alice"},
	}, nil)

	snapshot, err := h.CreateGroup(context.Background(), template, 7, &model.OrderPayload{Quantity: 1, UserName: "alice"})

	assert.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.JoinCount)
	assert.Equal(t, int64(3), snapshot.Capacity)
	assert.Equal(t, model.GroupStatusOpen, snapshot.Status)
	assert.True(t, snapshot.CanJoin)
	assert.Len(t, snapshot.Participants, 1)
	groupRepo.AssertExpectations(t)
}

// TestCreateGroup_InvalidPayload 测试开团参数非法
func TestCreateGroup_InvalidPayload(t *testing.T) {
	h := newTestHandler(&mockGroupStore{}, &mockTemplateStore{}, allowAllLimiter{})

	// 数量为0非法
	_, err := h.CreateGroup(context.Background(), testTemplate(), 7, &model.OrderPayload{Quantity: 0})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)

	// 载荷为nil非法
	_, err = h.CreateGroup(context.Background(), testTemplate(), 7, nil)
	assert.ErrorIs(t, err, model.ErrInvalidPayload)

	// 模板容量非法
	badTemplate := testTemplate()
	badTemplate.Capacity = 0
	_, err = h.CreateGroup(context.Background(), badTemplate, 7, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)
}

// TestCreateGroup_RateLimited 测试开团被限流
func TestCreateGroup_RateLimited(t *testing.T) {
	h := newTestHandler(&mockGroupStore{}, &mockTemplateStore{}, denyAllLimiter{})

	_, err := h.CreateGroup(context.Background(), testTemplate(), 7, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrRateLimited)
}

// TestJoinGroup_NotFound 测试参加不存在的团
func TestJoinGroup_NotFound(t *testing.T) {
	groupRepo := &mockGroupStore{}
	h := newTestHandler(groupRepo, &mockTemplateStore{}, allowAllLimiter{})

	groupRepo.On("GetGroupById", "PTmissing").Return(model.GroupInstance{}, gorm.ErrRecordNotFound)

	_, err := h.JoinGroup(context.Background(), "PTmissing", 8, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// TestJoinGroup_Full 测试参加已满员的团
func TestJoinGroup_Full(t *testing.T) {
	groupRepo := &mockGroupStore{}
	templateRepo := &mockTemplateStore{}
	h := newTestHandler(groupRepo, templateRepo, allowAllLimiter{})
	template := testTemplate()

	groupRepo.On("GetGroupById", "PTfull").Return(model.GroupInstance{
		GroupId:    "PTfull",
		TemplateId: template.TemplateId,
		JoinCount:  3,
		Capacity:   3,
		CreateTime: time.Now(),
	}, nil)
	templateRepo.On("FindTemplateById", template.TemplateId).Return(template, nil)

	_, err := h.JoinGroup(context.Background(), "PTfull", 8, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrGroupFull)
}

// TestJoinGroup_Expired 测试参加已过期的团
// 满员优先于过期：已满的过期团返回满员错误，此处团未满只过期
func TestJoinGroup_Expired(t *testing.T) {
	groupRepo := &mockGroupStore{}
	templateRepo := &mockTemplateStore{}
	h := newTestHandler(groupRepo, templateRepo, allowAllLimiter{})
	template := testTemplate()
	template.EffectiveHours = 1

	groupRepo.On("GetGroupById", "PTexpired").Return(model.GroupInstance{
		GroupId:    "PTexpired",
		TemplateId: template.TemplateId,
		JoinCount:  1,
		Capacity:   3,
		CreateTime: time.Now().Add(-2 * time.Hour), // 1小时有效期已过
	}, nil)
	templateRepo.On("FindTemplateById", template.TemplateId).Return(template, nil)

	_, err := h.JoinGroup(context.Background(), "PTexpired", 8, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrGroupExpired)
}

// TestJoinGroup_AlreadyJoined 测试重复参团
func TestJoinGroup_AlreadyJoined(t *testing.T) {
	groupRepo := &mockGroupStore{}
	templateRepo := &mockTemplateStore{}
	h := newTestHandler(groupRepo, templateRepo, allowAllLimiter{})
	template := testTemplate()

	groupRepo.On("GetGroupById", "PTjoined").Return(model.GroupInstance{
		GroupId:    "PTjoined",
		TemplateId: template.TemplateId,
		JoinCount:  2,
		Capacity:   3,
		CreateTime: time.Now(),
	}, nil)
	templateRepo.On("FindTemplateById", template.TemplateId).Return(template, nil)
	groupRepo.On("HasParticipant", "PTjoined", int64(8)).Return(true, nil)

	_, err := h.JoinGroup(context.Background(), "PTjoined", 8, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrAlreadyJoined)
}

// TestJoinGroup_RateLimited 测试参团被限流
func TestJoinGroup_RateLimited(t *testing.T) {
	h := newTestHandler(&mockGroupStore{}, &mockTemplateStore{}, denyAllLimiter{})

	_, err := h.JoinGroup(context.Background(), "PTany", 8, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrRateLimited)
}

// TestJoinGroup_ConcurrentDoubleSubmit 测试并发双击穿过预检后被唯一索引拦截
// 同一用户的两个并发请求都可能通过HasParticipant预检，后写入的一方
// 在事务内命中uk_group_user唯一索引，应返回重复参团而非存储故障
func TestJoinGroup_ConcurrentDoubleSubmit(t *testing.T) {
	groupRepo := &mockGroupStore{}
	templateRepo := &mockTemplateStore{}
	h := newTestHandler(groupRepo, templateRepo, allowAllLimiter{})
	template := testTemplate()

	groupRepo.On("GetGroupById", "PTdup").Return(model.GroupInstance{
		GroupId:    "PTdup",
		TemplateId: template.TemplateId,
		JoinCount:  1,
		Capacity:   3,
		Version:    2,
		CreateTime: time.Now(),
	}, nil)
	templateRepo.On("FindTemplateById", template.TemplateId).Return(template, nil)
	// 预检时对方的参团记录尚未提交
	groupRepo.On("HasParticipant", "PTdup", int64(8)).Return(false, nil)
	groupRepo.On("WithTransaction", mock.AnythingOfType("func(*gorm.DB) error")).Return(nil)
	groupRepo.On("OccIncrJoinCount", mock.Anything, "PTdup", int64(2)).Return(int64(1), nil)
	// 参团记录写入命中唯一索引
	groupRepo.On("AddParticipation", mock.Anything, mock.Anything).Return(gorm.ErrDuplicatedKey)

	_, err := h.JoinGroup(context.Background(), "PTdup", 8, &model.OrderPayload{Quantity: 1})

	assert.ErrorIs(t, err, model.ErrAlreadyJoined)
	assert.NotErrorIs(t, err, model.ErrStoreUnavailable)
	groupRepo.AssertExpectations(t)
}

// TestJoinGroup_ContentionExhaustsRetries 测试乐观锁持续冲突耗尽重试
func TestJoinGroup_ContentionExhaustsRetries(t *testing.T) {
	groupRepo := &mockGroupStore{}
	templateRepo := &mockTemplateStore{}
	h := newTestHandler(groupRepo, templateRepo, allowAllLimiter{})
	template := testTemplate()

	// 每轮重读团状态都未满未过期，但条件更新始终0行受影响
	groupRepo.On("GetGroupById", "PThot").Return(model.GroupInstance{
		GroupId:    "PThot",
		TemplateId: template.TemplateId,
		JoinCount:  2,
		Capacity:   3,
		Version:    5,
		CreateTime: time.Now(),
	}, nil).Times(3)
	templateRepo.On("FindTemplateById", template.TemplateId).Return(template, nil).Times(3)
	groupRepo.On("HasParticipant", "PThot", int64(8)).Return(false, nil).Times(3)
	groupRepo.On("WithTransaction", mock.AnythingOfType("func(*gorm.DB) error")).Return(nil).Times(3)
	groupRepo.On("OccIncrJoinCount", mock.Anything, "PThot", int64(5)).Return(int64(0), nil).Times(3)

	_, err := h.JoinGroup(context.Background(), "PThot", 8, &model.OrderPayload{Quantity: 1})

	assert.ErrorIs(t, err, model.ErrContention)
	groupRepo.AssertExpectations(t)
}

// ==================== 并发容量不变式 ====================

// fakeGroupStore 有状态的内存拼团存储
// 用互斥锁模拟数据库的原子条件更新语义，供并发测试使用
type fakeGroupStore struct {
	mu           sync.Mutex
	group        model.GroupInstance
	participants []model.Participation
	orders       []model.SimpleOrder
}

func newFakeGroupStore(group model.GroupInstance) *fakeGroupStore {
	return &fakeGroupStore{group: group}
}

func (f *fakeGroupStore) GetGroupById(groupId string) (model.GroupInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if groupId != f.group.GroupId {
		return model.GroupInstance{}, gorm.ErrRecordNotFound
	}
	return f.group, nil
}

func (f *fakeGroupStore) HasParticipant(groupId string, userId int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.GroupId == groupId && p.UserId == userId {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGroupStore) ListParticipants(groupId string) ([]model.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Participation, len(f.participants))
	copy(out, f.participants)
	return out, nil
}

func (f *fakeGroupStore) CreateGroupInstance(tx *gorm.DB, group *model.GroupInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.group = *group
	return nil
}

// OccIncrJoinCount 模拟数据库条件更新：版本匹配且未满员才加1
func (f *fakeGroupStore) OccIncrJoinCount(tx *gorm.DB, groupId string, version int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.group.GroupId != groupId || f.group.Version != version || f.group.JoinCount >= f.group.Capacity {
		return 0, nil
	}
	f.group.JoinCount++
	f.group.Version++
	return 1, nil
}

func (f *fakeGroupStore) AddParticipation(tx *gorm.DB, participation *model.Participation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = append(f.participants, *participation)
	return nil
}

func (f *fakeGroupStore) AddSimpleOrder(tx *gorm.DB, order *model.SimpleOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, *order)
	return nil
}

func (f *fakeGroupStore) WithTransaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// fakeTemplateStore 固定返回单个模板
type fakeTemplateStore struct {
	template model.GroupBuyTemplate
}

func (f *fakeTemplateStore) FindTemplateById(templateId int64) (model.GroupBuyTemplate, error) {
	if templateId != f.template.TemplateId {
		return model.GroupBuyTemplate{}, gorm.ErrRecordNotFound
	}
	return f.template, nil
}

// TestJoinGroup_ConcurrentNeverExceedsCapacity 测试并发参团不超员
// 3人团已有1人，10个并发用户抢剩余2个名额：
// 成功次数恰好等于实际追加的参团人数，计数永不超过容量
func TestJoinGroup_ConcurrentNeverExceedsCapacity(t *testing.T) {
	template := testTemplate()
	store := newFakeGroupStore(model.GroupInstance{
		GroupId:       "PTrace",
		TemplateId:    template.TemplateId,
		GoodsId:       template.GoodsId,
		CreatorUserId: 1,
		JoinCount:     1,
		Capacity:      template.Capacity,
		CreateTime:    time.Now(),
	})
	h := newTestHandler(store, &fakeTemplateStore{template: template}, allowAllLimiter{})

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userId int64) {
			defer wg.Done()
			_, err := h.JoinGroup(context.Background(), "PTrace", userId, &model.OrderPayload{Quantity: 1})
			errs <- err
		}(int64(i + 100))
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		// 失败只允许是满员或冲突耗尽重试
		assert.True(t, errors.Is(err, model.ErrGroupFull) || errors.Is(err, model.ErrContention),
			fmt.Sprintf("unexpected join error: %v", err))
	}

	// 计数永不超过容量，且成功次数与实际追加人数一致
	assert.LessOrEqual(t, store.group.JoinCount, store.group.Capacity)
	assert.Equal(t, int64(success), store.group.JoinCount-1)
	assert.Len(t, store.participants, success)
	assert.Len(t, store.orders, success)

	// 参团用户不重复
	seen := make(map[int64]bool)
	for _, p := range store.participants {
		assert.False(t, seen[p.UserId], "duplicate participant")
		seen[p.UserId] = true
	}
}

// TestJoinGroup_FullGroupEmitsFullEvent 测试占满最后名额触发满员事件
func TestJoinGroup_FullGroupEmitsFullEvent(t *testing.T) {
	template := testTemplate()
	store := newFakeGroupStore(model.GroupInstance{
		GroupId:       "PTlast",
		TemplateId:    template.TemplateId,
		GoodsId:       template.GoodsId,
		CreatorUserId: 1,
		JoinCount:     2,
		Capacity:      3,
		CreateTime:    time.Now(),
	})

	events := &capturePublisher{}
	h := &GroupBuyHandler{
		groupRepo:    store,
		templateRepo: &fakeTemplateStore{template: template},
		limiter:      allowAllLimiter{},
		publisher:    events,
	}

	snapshot, err := h.JoinGroup(context.Background(), "PTlast", 9, &model.OrderPayload{Quantity: 1})

	assert.NoError(t, err)
	assert.Equal(t, model.GroupStatusFull, snapshot.Status)
	assert.False(t, snapshot.CanJoin)
	assert.Len(t, events.events, 1)
	assert.Equal(t, model.GroupEventFull, events.events[0].EventType)
	assert.Equal(t, int64(3), events.events[0].JoinCount)
}

// TestJoinGroup_FillThenReject 测试依次占满名额后继续参团被拒绝
func TestJoinGroup_FillThenReject(t *testing.T) {
	template := testTemplate()
	store := newFakeGroupStore(model.GroupInstance{
		GroupId:       "PTfill",
		TemplateId:    template.TemplateId,
		GoodsId:       template.GoodsId,
		CreatorUserId: 1,
		JoinCount:     1,
		Capacity:      3,
		CreateTime:    time.Now(),
	})
	store.participants = []model.Participation{{GroupId: "PTfill", UserId: 1}}
	h := newTestHandler(store, &fakeTemplateStore{template: template}, allowAllLimiter{})

	// 第2、3人依次参团
	snapshot, err := h.JoinGroup(context.Background(), "PTfill", 2, &model.OrderPayload{Quantity: 1})
	assert.NoError(t, err)
	assert.Equal(t, model.GroupStatusOpen, snapshot.Status)

	snapshot, err = h.JoinGroup(context.Background(), "PTfill", 3, &model.OrderPayload{Quantity: 1})
	assert.NoError(t, err)
	assert.Equal(t, model.GroupStatusFull, snapshot.Status)
	assert.Equal(t, int64(3), snapshot.JoinCount)
	assert.False(t, snapshot.CanJoin)

	// 第4人参团被拒绝，状态不变
	_, err = h.JoinGroup(context.Background(), "PTfill", 4, &model.OrderPayload{Quantity: 1})
	assert.ErrorIs(t, err, model.ErrGroupFull)

	view, err := h.GetGroupView("PTfill")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), view.JoinCount)
	assert.False(t, view.CanJoin)
}

// capturePublisher 记录发布的团事件
type capturePublisher struct {
	mu     sync.Mutex
	events []model.GroupEventMessage
}

func (c *capturePublisher) SendGroupEventMessage(ctx context.Context, event *model.GroupEventMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
	return nil
}

// TestGetGroupView_SnapshotFields 测试团状态快照字段派生
func TestGetGroupView_SnapshotFields(t *testing.T) {
	template := testTemplate()
	createTime := time.Now().Add(-1 * time.Hour)
	store := newFakeGroupStore(model.GroupInstance{
		GroupId:       "PTview",
		TemplateId:    template.TemplateId,
		GoodsId:       template.GoodsId,
		CreatorUserId: 1,
		JoinCount:     2,
		Capacity:      3,
		CreateTime:    createTime,
	})
	store.participants = []model.Participation{
		{GroupId: "PTview", UserId: 1, UserName: "alice"},
		{GroupId: "PTview", UserId: 2, UserName: "bob"},
	}
	h := newTestHandler(store, &fakeTemplateStore{template: template}, allowAllLimiter{})

	snapshot, err := h.GetGroupView("PTview")

	assert.NoError(t, err)
	assert.Equal(t, model.GroupStatusOpen, snapshot.Status)
	assert.True(t, snapshot.CanJoin)
	assert.Equal(t, template.GroupBuyPrice, snapshot.GroupBuyPrice)
	assert.Equal(t, createTime.Add(24*time.Hour), snapshot.ExpireTime)
	assert.Len(t, snapshot.Participants, 2)
	assert.Equal(t, "alice", snapshot.Participants[0].UserName)
}
