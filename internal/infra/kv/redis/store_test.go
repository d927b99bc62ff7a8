package rediskv

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movie-match/internal/repository"
	"movie-match/internal/repository/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "test:", repository.DefaultTables()), mr
}

func TestRedisStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.KeyValueStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "ABC123", "roomId": "r1"}))

	assert.True(t, mr.Exists("test:kv:invite_codes:ABC123"))
	members, err := mr.SMembers("test:idx:invite_codes:roomId:r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"test:kv:invite_codes:ABC123"}, members)
}

func TestRedisStore_QuerySkipsStaleIndexEntries(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "ABC123", "roomId": "r1"}))
	// 记录被直接删除，索引集合中残留成员
	mr.Del("test:kv:invite_codes:ABC123")

	got, err := s.Query(ctx, repository.QueryInput{Table: repository.TableInviteCodes, Index: "roomId", Partition: "r1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_ConnectionErrorIsTransient(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), repository.TableRooms, repository.Key{Partition: "r1"})
	require.Error(t, err)
	assert.True(t, repository.IsTransient(err), "连接失败应被标记为可重试: %v", err)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.Equal(t, redis.Nil, classify(redis.Nil))
	assert.True(t, repository.IsTransient(classify(errors.New("LOADING Redis is loading the dataset in memory"))))
	assert.True(t, repository.IsTransient(classify(&net.OpError{Op: "dial", Err: errors.New("refused")})))
	assert.False(t, repository.IsTransient(classify(errors.New("ERR wrong number of arguments"))))
}
