package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
	"movie-match/internal/metrics"
	"movie-match/internal/repository"
)

// VoteService 处理投票：记录每个用户对条目的一次性投票，累加票数，并在
// 所有活跃成员都投给同一条目时把房间原子地切换到 MATCHED。
// 服务本身无状态，所有"只有一个赢家"的转换都依赖存储的条件写。
type VoteService struct {
	store     repository.KeyValueStore
	publisher EventPublisher
	retry     *RetryPolicy
	now       func() time.Time
	newID     func() string
}

// NewVoteService 创建 VoteService 实例。publisher 可以为 nil (不发布事件)。
func NewVoteService(store repository.KeyValueStore, publisher EventPublisher, retry *RetryPolicy, opts ...Option) *VoteService {
	if store == nil {
		panic("KeyValueStore cannot be nil for VoteService")
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	o := buildOptions(opts)
	return &VoteService{store: store, publisher: publisher, retry: retry, now: o.now, newID: o.newID}
}

// ProcessVote 处理 userID 在 roomID 中对 itemID 的一次投票，返回投票后的房间状态。
func (s *VoteService) ProcessVote(ctx context.Context, userID, roomID, itemID string) (*domain.RoomState, error) {
	if userID == "" || roomID == "" || itemID == "" {
		metrics.VotesProcessed.WithLabelValues("rejected").Inc()
		return nil, validationError("userId, roomId and itemId are required")
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID, "item_id": itemID})

	// 1. 房间必须存在且处于可投票状态
	room, err := loadRoom(ctx, s.store, s.retry, roomID)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	if !room.Status.AcceptsVotes() {
		metrics.VotesProcessed.WithLabelValues("rejected").Inc()
		logCtx.WithField("status", room.Status).Info("Vote rejected: room no longer accepts votes")
		return nil, fmt.Errorf("%w: room is %s", ErrInvalidRoomState, room.Status)
	}

	// 2. 必须是活跃成员
	member, err := loadMember(ctx, s.store, s.retry, roomID, userID)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	if !member.IsActive {
		metrics.VotesProcessed.WithLabelValues("rejected").Inc()
		return nil, ErrNotMember
	}

	// 3. 一次性写入投票记录，条件失败即重复投票
	if err := s.recordVote(ctx, &domain.UserVoteRecord{
		UserID:    userID,
		RoomID:    roomID,
		ItemID:    itemID,
		VotedAt:   s.now(),
		RequestID: s.newID(),
	}); err != nil {
		if errors.Is(err, ErrDuplicateVote) {
			metrics.VotesProcessed.WithLabelValues("duplicate").Inc()
			logCtx.Info("Duplicate vote rejected")
			return nil, err
		}
		metrics.VotesProcessed.WithLabelValues("failed").Inc()
		logCtx.WithError(err).Error("Failed to record vote")
		return nil, err
	}

	// 4. 原子累加票数；失败时撤销投票记录，让调用方可以重新提交
	votes, err := s.incrementTally(ctx, roomID, itemID)
	if err != nil {
		metrics.VotesProcessed.WithLabelValues("failed").Inc()
		logCtx.WithError(err).Error("Failed to increment vote tally, compensating vote record")
		s.compensateVoteRecord(ctx, userID, roomID, itemID)
		return nil, mapRepoError(err)
	}
	metrics.VotesProcessed.WithLabelValues("accepted").Inc()

	// 5-8. 统计活跃成员、发布事件、判定共识
	return s.evaluateConsensus(ctx, room, userID, itemID, votes)
}

// ReevaluateConsensus 重新读取票数并判定共识。投票在统计成员阶段失败时票已计入，
// 可以通过它补做判定；对已经 MATCHED 的房间是幂等的。
func (s *VoteService) ReevaluateConsensus(ctx context.Context, roomID, itemID string) (*domain.RoomState, error) {
	if roomID == "" || itemID == "" {
		return nil, validationError("roomId and itemId are required")
	}
	room, err := loadRoom(ctx, s.store, s.retry, roomID)
	if err != nil {
		return nil, err
	}
	tally, err := s.GetVoteTally(ctx, roomID, itemID)
	if err != nil {
		return nil, err
	}
	if !room.Status.AcceptsVotes() {
		return stateOf(room, tally.Votes, 0), nil
	}
	return s.evaluateConsensus(ctx, room, "", itemID, tally.Votes)
}

func (s *VoteService) evaluateConsensus(ctx context.Context, room *domain.Room, userID, itemID string, votes int64) (*domain.RoomState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "item_id": itemID, "votes": votes})

	// 5. 读取时统计活跃成员数，成员数缓存不参与判定
	members, err := activeMembers(ctx, s.store, s.retry, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to count active members after vote was recorded")
		return nil, err
	}
	total := int64(len(members))

	// 6. 票数更新事件
	if userID != "" {
		publishBestEffort(ctx, s.publisher, domain.Event{
			Type:         domain.EventVoteUpdate,
			RoomID:       room.ID,
			UserID:       userID,
			ItemID:       itemID,
			CurrentVotes: votes,
			TotalMembers: total,
			OccurredAt:   s.now(),
		})
	}

	// 8. 未达到共识
	if total == 0 || votes < total {
		return stateOf(room, votes, total), nil
	}

	// 7. 达到共识：CAS 切换到 MATCHED，只有一个赢家
	now := s.now()
	updated, err := retryValue(ctx, s.retry, "room.match", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableRooms, roomKey(room.ID),
			repository.UpdateExpr{Set: map[string]string{
				attrStatus:       string(domain.RoomStatusMatched),
				attrResultItemID: itemID,
				attrUpdatedAt:    formatTime(now),
			}},
			repository.AttributeExists(attrRoomID),
			repository.NotEquals(attrStatus, string(domain.RoomStatusMatched)),
			repository.NotEquals(attrStatus, string(domain.RoomStatusCompleted)),
			repository.NotEquals(attrStatus, string(domain.RoomStatusInactive)),
		)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrConditionFailed) {
			logCtx.WithError(err).Error("Failed to transition room to MATCHED")
			return nil, mapRepoError(err)
		}
		// 另一个投票先完成了切换，返回它的结果
		current, err := loadRoom(ctx, s.store, s.retry, room.ID)
		if err != nil {
			return nil, err
		}
		logCtx.WithField("result_item_id", current.ResultItemID).Info("Room already transitioned by a concurrent vote")
		return stateOf(current, votes, total), nil
	}

	matched, err := itemToRoom(updated)
	if err != nil {
		return nil, err
	}
	metrics.MatchesFound.Inc()
	logCtx.Info("Consensus reached, room matched")

	participants := make([]string, 0, len(members))
	for _, m := range members {
		participants = append(participants, m.UserID)
	}
	publishBestEffort(ctx, s.publisher, domain.Event{
		Type:         domain.EventMatchFound,
		RoomID:       room.ID,
		ItemID:       itemID,
		CurrentVotes: votes,
		TotalMembers: total,
		Participants: participants,
		OccurredAt:   now,
	})
	return stateOf(matched, votes, total), nil
}

// recordVote 条件写入投票记录。写入可能已经提交但应答丢失，重试时会撞上自己的记录，
// 所以条件失败后回读记录，requestId 相同说明是本次请求写入的。
func (s *VoteService) recordVote(ctx context.Context, vote *domain.UserVoteRecord) error {
	record := voteRecordToItem(vote)
	err := s.retry.Do(ctx, "vote.record", func(ctx context.Context) error {
		return s.store.Put(ctx, repository.TableUserVotes, record, repository.AttributeNotExists(attrUserID))
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return mapRepoError(err)
	}

	existing, err := retryValue(ctx, s.retry, "vote.record.get", func(ctx context.Context) (repository.Item, error) {
		return s.store.Get(ctx, repository.TableUserVotes, voteRecordKey(vote.UserID, vote.RoomID, vote.ItemID))
	})
	switch {
	case err == nil && existing[attrRequestID] == vote.RequestID:
		logrus.WithFields(logrus.Fields{"user_id": vote.UserID, "room_id": vote.RoomID, "item_id": vote.ItemID}).
			Info("Vote record already written by this request, continuing")
		return nil
	case err == nil, errors.Is(err, repository.ErrNotFound):
		return ErrDuplicateVote
	default:
		return mapRepoError(err)
	}
}

// incrementTally 先对已有计数 ADD；行不存在时以 1 创建；
// 创建输给并发的第一票时再 ADD 一次。
func (s *VoteService) incrementTally(ctx context.Context, roomID, itemID string) (int64, error) {
	add := repository.UpdateExpr{Add: map[string]int64{attrVotes: 1}}
	first := tallyToItem(&domain.VoteTally{RoomID: roomID, ItemID: itemID, Votes: 1})

	for round := 0; round < 2; round++ {
		item, err := retryValue(ctx, s.retry, "vote.tally.add", func(ctx context.Context) (repository.Item, error) {
			return s.store.Update(ctx, repository.TableVoteTallies, tallyKey(roomID, itemID), add,
				repository.AttributeExists(attrRoomID))
		})
		if err == nil {
			tally, err := itemToTally(item)
			if err != nil {
				return 0, err
			}
			return tally.Votes, nil
		}
		if !errors.Is(err, repository.ErrConditionFailed) {
			return 0, err
		}

		err = s.retry.Do(ctx, "vote.tally.create", func(ctx context.Context) error {
			return s.store.Put(ctx, repository.TableVoteTallies, first, repository.AttributeNotExists(attrRoomID))
		})
		if err == nil {
			return 1, nil
		}
		if !errors.Is(err, repository.ErrConditionFailed) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: vote tally %s/%s kept changing", ErrTemporarilyUnavailable, roomID, itemID)
}

func (s *VoteService) compensateVoteRecord(ctx context.Context, userID, roomID, itemID string) {
	err := s.retry.Do(ctx, "vote.compensate", func(ctx context.Context) error {
		return s.store.Delete(ctx, repository.TableUserVotes, voteRecordKey(userID, roomID, itemID))
	})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("vote_compensation").Inc()
		logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID, "item_id": itemID}).
			WithError(err).Error("Failed to delete vote record after tally failure")
	}
}

func (s *VoteService) countFailure(err error) {
	if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrNotMember) {
		metrics.VotesProcessed.WithLabelValues("rejected").Inc()
		return
	}
	metrics.VotesProcessed.WithLabelValues("failed").Inc()
}

// GetVoteTally 读取条目的当前票数，没有记录时为 0。
func (s *VoteService) GetVoteTally(ctx context.Context, roomID, itemID string) (*domain.VoteTally, error) {
	if roomID == "" || itemID == "" {
		return nil, validationError("roomId and itemId are required")
	}
	item, err := retryValue(ctx, s.retry, "vote.tally.get", func(ctx context.Context) (repository.Item, error) {
		return s.store.Get(ctx, repository.TableVoteTallies, tallyKey(roomID, itemID))
	})
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.VoteTally{RoomID: roomID, ItemID: itemID}, nil
	}
	if err != nil {
		return nil, mapRepoError(err)
	}
	return itemToTally(item)
}

// ListRoomTallies 返回房间内所有条目的票数，顺序不保证。
func (s *VoteService) ListRoomTallies(ctx context.Context, roomID string) ([]*domain.VoteTally, error) {
	if roomID == "" {
		return nil, validationError("roomId is required")
	}
	items, err := retryValue(ctx, s.retry, "vote.tally.query", func(ctx context.Context) ([]repository.Item, error) {
		return s.store.Query(ctx, repository.QueryInput{Table: repository.TableVoteTallies, Partition: roomID})
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	tallies := make([]*domain.VoteTally, 0, len(items))
	for _, item := range items {
		t, err := itemToTally(item)
		if err != nil {
			return nil, err
		}
		tallies = append(tallies, t)
	}
	return tallies, nil
}

func stateOf(room *domain.Room, votes, total int64) *domain.RoomState {
	return &domain.RoomState{
		RoomID:       room.ID,
		Status:       room.Status,
		ResultItemID: room.ResultItemID,
		CurrentVotes: votes,
		TotalMembers: total,
	}
}
