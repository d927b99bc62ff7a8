// Package storetest 是 KeyValueStore 各实现共用的一致性测试。
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movie-match/internal/repository"
)

// Run 对 newStore 返回的存储执行全部一致性用例，每个子测试使用一个新的存储实例。
// 存储必须使用 repository.DefaultTables() 定义的表。
func Run(t *testing.T, newStore func(t *testing.T) repository.KeyValueStore) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), repository.TableRooms, repository.Key{Partition: "nope"})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		item := repository.Item{"roomId": "r1", "name": "Friday", "status": "WAITING"}
		require.NoError(t, s.Put(ctx, repository.TableRooms, item))

		got, err := s.Get(ctx, repository.TableRooms, repository.Key{Partition: "r1"})
		require.NoError(t, err)
		assert.Equal(t, item, got)
	})

	t.Run("PutReplacesWholeItem", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, repository.TableRooms, repository.Item{"roomId": "r1", "a": "1", "b": "2"}))
		require.NoError(t, s.Put(ctx, repository.TableRooms, repository.Item{"roomId": "r1", "a": "3"}))

		got, err := s.Get(ctx, repository.TableRooms, repository.Key{Partition: "r1"})
		require.NoError(t, err)
		assert.Equal(t, repository.Item{"roomId": "r1", "a": "3"}, got)
	})

	t.Run("PutMissingKey", func(t *testing.T) {
		s := newStore(t)
		err := s.Put(context.Background(), repository.TableRoomMembers, repository.Item{"roomId": "r1"})
		assert.ErrorIs(t, err, repository.ErrMissingKey)
	})

	t.Run("CreateIfAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cond := repository.AttributeNotExists("code")
		require.NoError(t, s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "ABC123", "roomId": "r1"}, cond))

		err := s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "ABC123", "roomId": "r2"}, cond)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		got, err := s.Get(ctx, repository.TableInviteCodes, repository.Key{Partition: "ABC123"})
		require.NoError(t, err)
		assert.Equal(t, "r1", got["roomId"], "失败的条件写不能修改记录")
	})

	t.Run("UpdateAddCreatesAndIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := repository.Key{Partition: "r1", Sort: "m1"}
		expr := repository.UpdateExpr{Add: map[string]int64{"votes": 1}}

		got, err := s.Update(ctx, repository.TableVoteTallies, key, expr)
		require.NoError(t, err)
		assert.Equal(t, "1", got["votes"])
		assert.Equal(t, "r1", got["roomId"], "upsert 应写入主键属性")
		assert.Equal(t, "m1", got["itemId"])

		got, err = s.Update(ctx, repository.TableVoteTallies, key, expr)
		require.NoError(t, err)
		assert.Equal(t, "2", got["votes"])
	})

	t.Run("UpdateRequiresExisting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := repository.Key{Partition: "r1", Sort: "m1"}
		_, err := s.Update(ctx, repository.TableVoteTallies, key,
			repository.UpdateExpr{Add: map[string]int64{"votes": 1}},
			repository.AttributeExists("roomId"))
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = s.Get(ctx, repository.TableVoteTallies, key)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("UpdateCompareAndSwap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := repository.Key{Partition: "r1"}
		require.NoError(t, s.Put(ctx, repository.TableRooms, repository.Item{"roomId": "r1", "status": "ACTIVE"}))

		cas := []repository.Condition{repository.AttributeExists("roomId"), repository.NotEquals("status", "MATCHED")}
		got, err := s.Update(ctx, repository.TableRooms, key,
			repository.UpdateExpr{Set: map[string]string{"status": "MATCHED", "resultItemId": "m1"}}, cas...)
		require.NoError(t, err)
		assert.Equal(t, "MATCHED", got["status"])

		_, err = s.Update(ctx, repository.TableRooms, key,
			repository.UpdateExpr{Set: map[string]string{"status": "MATCHED", "resultItemId": "m2"}}, cas...)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		got, err = s.Get(ctx, repository.TableRooms, key)
		require.NoError(t, err)
		assert.Equal(t, "m1", got["resultItemId"])
	})

	t.Run("UpdateRemove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, repository.TableRooms, repository.Item{"roomId": "r1", "resultItemId": "x"}))
		got, err := s.Update(ctx, repository.TableRooms, repository.Key{Partition: "r1"},
			repository.UpdateExpr{Remove: []string{"resultItemId"}})
		require.NoError(t, err)
		_, ok := got["resultItemId"]
		assert.False(t, ok)
	})

	t.Run("EqualsCondition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := repository.Key{Partition: "r1"}
		require.NoError(t, s.Put(ctx, repository.TableRooms, repository.Item{"roomId": "r1", "status": "WAITING"}))

		_, err := s.Update(ctx, repository.TableRooms, key,
			repository.UpdateExpr{Set: map[string]string{"status": "ACTIVE"}}, repository.Equals("status", "ACTIVE"))
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		got, err := s.Update(ctx, repository.TableRooms, key,
			repository.UpdateExpr{Set: map[string]string{"status": "ACTIVE"}}, repository.Equals("status", "WAITING"))
		require.NoError(t, err)
		assert.Equal(t, "ACTIVE", got["status"])
	})

	t.Run("QueryPartitionWithFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, it := range []repository.Item{
			{"roomId": "r1", "userId": "u1", "isActive": "true"},
			{"roomId": "r1", "userId": "u2", "isActive": "false"},
			{"roomId": "r1", "userId": "u3", "isActive": "true"},
			{"roomId": "r2", "userId": "u1", "isActive": "true"},
		} {
			require.NoError(t, s.Put(ctx, repository.TableRoomMembers, it))
		}

		all, err := s.Query(ctx, repository.QueryInput{Table: repository.TableRoomMembers, Partition: "r1"})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		active, err := s.Query(ctx, repository.QueryInput{
			Table:     repository.TableRoomMembers,
			Partition: "r1",
			Filter:    []repository.Condition{repository.Equals("isActive", "true")},
		})
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("QueryIndex", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "AAAAAA", "roomId": "r1"}))
		require.NoError(t, s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "BBBBBB", "roomId": "r1"}))
		require.NoError(t, s.Put(ctx, repository.TableInviteCodes, repository.Item{"code": "CCCCCC", "roomId": "r2"}))

		got, err := s.Query(ctx, repository.QueryInput{Table: repository.TableInviteCodes, Index: "roomId", Partition: "r1"})
		require.NoError(t, err)
		codes := make([]string, 0, len(got))
		for _, it := range got {
			codes = append(codes, it["code"])
		}
		assert.ElementsMatch(t, []string{"AAAAAA", "BBBBBB"}, codes)

		_, err = s.Query(ctx, repository.QueryInput{Table: repository.TableRooms, Index: "hostId", Partition: "u1"})
		assert.Error(t, err, "未声明的索引应报错")
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := repository.Key{Partition: "r1", Sort: "u1"}
		require.NoError(t, s.Put(ctx, repository.TableRoomMembers, repository.Item{"roomId": "r1", "userId": "u1"}))
		require.NoError(t, s.Delete(ctx, repository.TableRoomMembers, key))
		require.NoError(t, s.Delete(ctx, repository.TableRoomMembers, key))

		_, err := s.Get(ctx, repository.TableRoomMembers, key)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		left, err := s.Query(ctx, repository.QueryInput{Table: repository.TableRoomMembers, Partition: "r1"})
		require.NoError(t, err)
		assert.Empty(t, left)
	})

	t.Run("ConcurrentCreateIfAbsentHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Put(ctx, repository.TableUserVotes,
					repository.Item{"userId": "u1", "roomItem": "r1#m1", "roomId": "r1"},
					repository.AttributeNotExists("userId"))
				if err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ConcurrentAddIsLossless", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := repository.Key{Partition: "r1", Sort: "m1"}
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, repository.TableVoteTallies, key, repository.UpdateExpr{Add: map[string]int64{"votes": 1}})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		got, err := s.Get(ctx, repository.TableVoteTallies, key)
		require.NoError(t, err)
		assert.Equal(t, "10", got["votes"])
	})
}
