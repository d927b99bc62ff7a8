package service_test

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"movie-match/internal/domain"
	"movie-match/internal/infra/kv/memory"
	"movie-match/internal/repository"
	"movie-match/internal/service"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock 是可手动拨动的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fastRetry 保持默认的重试语义，但把退避缩短到毫秒级
func fastRetry() *service.RetryPolicy {
	return &service.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Classify:    repository.IsTransient,
	}
}

func newMemoryStore() *memory.Store {
	return memory.NewStore(repository.DefaultTables()...)
}

func seedRoom(t *testing.T, store repository.KeyValueStore, roomID, hostID string, status domain.RoomStatus) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), repository.TableRooms, repository.Item{
		"roomId":      roomID,
		"name":        "Friday night",
		"status":      string(status),
		"hostId":      hostID,
		"memberCount": "0",
		"createdAt":   t0.Format(time.RFC3339Nano),
		"updatedAt":   t0.Format(time.RFC3339Nano),
	}))
}

func seedMember(t *testing.T, store repository.KeyValueStore, roomID, userID string, active bool) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), repository.TableRoomMembers, repository.Item{
		"roomId":   roomID,
		"userId":   userID,
		"role":     string(domain.MemberRoleMember),
		"isActive": strconv.FormatBool(active),
		"joinedAt": t0.Format(time.RFC3339Nano),
	}))
}

func getItem(t *testing.T, store repository.KeyValueStore, table string, key repository.Key) repository.Item {
	t.Helper()
	item, err := store.Get(context.Background(), table, key)
	require.NoError(t, err)
	return item
}

// recordingPublisher 记录所有发布的事件，可并发使用
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) ofType(typ domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var errInjected = errors.New("injected store failure")

// faultyStore 在底层存储外包一层，可以让指定 "方法:表" 的调用失败
type faultyStore struct {
	repository.KeyValueStore

	mu       sync.Mutex
	failures map[string]int // 剩余失败次数，-1 表示一直失败
	lostAcks map[string]int // 写入生效但仍返回错误的剩余次数
	err      error
	calls    map[string]int
}

func newFaultyStore(inner repository.KeyValueStore) *faultyStore {
	return &faultyStore{
		KeyValueStore: inner,
		failures:      make(map[string]int),
		lostAcks:      make(map[string]int),
		calls:         make(map[string]int),
		err:           repository.Transient(errInjected),
	}
}

func (f *faultyStore) failNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// loseAckNext 让接下来 n 次调用先落到底层存储，再向调用方返回错误
func (f *faultyStore) loseAckNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostAcks[op] = n
}

func (f *faultyStore) ackLost(op string, err error) error {
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lostAcks[op] == 0 {
		return nil
	}
	f.lostAcks[op]--
	return f.err
}

func (f *faultyStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyStore) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	n, ok := f.failures[op]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		f.failures[op] = n - 1
	}
	return f.err
}

func (f *faultyStore) Get(ctx context.Context, table string, key repository.Key) (repository.Item, error) {
	if err := f.check("Get:" + table); err != nil {
		return nil, err
	}
	return f.KeyValueStore.Get(ctx, table, key)
}

func (f *faultyStore) Put(ctx context.Context, table string, item repository.Item, conds ...repository.Condition) error {
	op := "Put:" + table
	if err := f.check(op); err != nil {
		return err
	}
	return f.ackLost(op, f.KeyValueStore.Put(ctx, table, item, conds...))
}

func (f *faultyStore) Update(ctx context.Context, table string, key repository.Key, expr repository.UpdateExpr, conds ...repository.Condition) (repository.Item, error) {
	if err := f.check("Update:" + table); err != nil {
		return nil, err
	}
	return f.KeyValueStore.Update(ctx, table, key, expr, conds...)
}

func (f *faultyStore) Query(ctx context.Context, in repository.QueryInput) ([]repository.Item, error) {
	if err := f.check("Query:" + in.Table); err != nil {
		return nil, err
	}
	return f.KeyValueStore.Query(ctx, in)
}

func (f *faultyStore) Delete(ctx context.Context, table string, key repository.Key) error {
	if err := f.check("Delete:" + table); err != nil {
		return err
	}
	return f.KeyValueStore.Delete(ctx, table, key)
}

// interleavingStore 在第一次读取邀请码之后、调用方写入之前，插入一次其他请求的使用计数
type interleavingStore struct {
	repository.KeyValueStore
	once sync.Once
}

func (s *interleavingStore) Get(ctx context.Context, table string, key repository.Key) (repository.Item, error) {
	item, err := s.KeyValueStore.Get(ctx, table, key)
	if err == nil && table == repository.TableInviteCodes {
		s.once.Do(func() {
			_, _ = s.KeyValueStore.Update(ctx, table, key, repository.UpdateExpr{Add: map[string]int64{"usageCount": 1}})
		})
	}
	return item, err
}

// lockedReader 可并发读取的随机源，只产出字母表前 n 个字符，用来制造碰撞
type lockedReader struct {
	mu  sync.Mutex
	rnd *rand.Rand
	n   int
}

func newLockedReader(seed int64, n int) *lockedReader {
	return &lockedReader{rnd: rand.New(rand.NewSource(seed)), n: n}
}

func (r *lockedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = byte(r.rnd.Intn(r.n))
	}
	return len(p), nil
}
