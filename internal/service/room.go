package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"movie-match/internal/domain"
	"movie-match/internal/metrics"
	"movie-match/internal/repository"
)

const (
	maxRoomNameLength = 100
	minActiveMembers  = 2
)

// CreateRoomResult 创建房间的结果：房间本身和房主用于分享的邀请链接。
type CreateRoomResult struct {
	Room   *domain.Room
	Invite *domain.InviteLink
}

// RoomService 负责房间的创建、加入和离开。
type RoomService struct {
	store     repository.KeyValueStore
	invites   *InviteService
	scheduler PrecacheScheduler
	retry     *RetryPolicy
	now       func() time.Time
	newID     func() string
}

// NewRoomService 创建 RoomService 实例。scheduler 可以为 nil (不预缓存内容)。
func NewRoomService(store repository.KeyValueStore, invites *InviteService, scheduler PrecacheScheduler, retry *RetryPolicy, opts ...Option) *RoomService {
	if store == nil {
		panic("KeyValueStore cannot be nil for RoomService")
	}
	if invites == nil {
		panic("InviteService cannot be nil for RoomService")
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	o := buildOptions(opts)
	return &RoomService{
		store:     store,
		invites:   invites,
		scheduler: scheduler,
		retry:     retry,
		now:       o.now,
		newID:     o.newID,
	}
}

// CreateRoom 创建房间并把创建者登记为房主。
// 邀请码生成与内容预缓存调度并发进行；预缓存调度失败只记录日志。
func (s *RoomService) CreateRoom(ctx context.Context, hostID, name string, genreIDs []int) (*CreateRoomResult, error) {
	name = strings.TrimSpace(name)
	if hostID == "" {
		return nil, validationError("hostId is required")
	}
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, validationError("room name must be 1-%d characters", maxRoomNameLength)
	}
	logCtx := logrus.WithField("host_id", hostID)

	now := s.now().UTC()
	room := &domain.Room{
		ID:          s.newID(),
		Name:        name,
		Status:      domain.RoomStatusWaiting,
		HostID:      hostID,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	logCtx = logCtx.WithField("room_id", room.ID)

	// 1. 保存房间
	record := roomToItem(room)
	err := s.retry.Do(ctx, "room.put", func(ctx context.Context) error {
		return s.store.Put(ctx, repository.TableRooms, record, repository.AttributeNotExists(attrRoomID))
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, fmt.Errorf("%w: room id collision", ErrInternalServer)
		}
		return nil, mapRepoError(err)
	}

	// 2. 登记房主
	host := memberToItem(&domain.Member{
		RoomID:   room.ID,
		UserID:   hostID,
		Role:     domain.MemberRoleHost,
		IsActive: true,
		JoinedAt: now,
	})
	err = s.retry.Do(ctx, "member.put", func(ctx context.Context) error {
		return s.store.Put(ctx, repository.TableRoomMembers, host, repository.AttributeNotExists(attrUserID))
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to save room host")
		return nil, mapRepoError(err)
	}

	// 3. 邀请码与预缓存调度并发
	var invite *domain.InviteLink
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		link, err := s.invites.GenerateInviteLink(gctx, room.ID, hostID, InviteOptions{})
		if err != nil {
			return err
		}
		invite = link
		return nil
	})
	if s.scheduler != nil {
		g.Go(func() error {
			if err := s.scheduler.SchedulePrecache(gctx, room.ID, genreIDs); err != nil {
				metrics.BestEffortFailures.WithLabelValues("precache_schedule").Inc()
				logCtx.WithError(err).Warn("Failed to schedule content precache")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logCtx.WithError(err).Error("Failed to issue invite for new room")
		s.abandonRoom(ctx, room.ID)
		return nil, err
	}

	logCtx.WithField("invite_code", invite.Code).Info("Room created successfully")
	return &CreateRoomResult{Room: room, Invite: invite}, nil
}

// abandonRoom 把没能发出邀请码的房间标记为 INACTIVE。
func (s *RoomService) abandonRoom(ctx context.Context, roomID string) {
	_, err := retryValue(ctx, s.retry, "room.abandon", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableRooms, roomKey(roomID),
			repository.UpdateExpr{Set: map[string]string{
				attrStatus:    string(domain.RoomStatusInactive),
				attrUpdatedAt: formatTime(s.now()),
			}},
			repository.AttributeExists(attrRoomID))
	})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("room_abandon").Inc()
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to mark room inactive after invite failure")
	}
}

// JoinRoom 通过邀请码加入房间。已是活跃成员时幂等。
func (s *RoomService) JoinRoom(ctx context.Context, userID, code string) (*domain.RoomInfo, error) {
	if userID == "" {
		return nil, validationError("userId is required")
	}
	info, err := s.invites.ValidateInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	normalized, _ := NormalizeInviteCode(code)
	return s.join(ctx, userID, info, normalized, true)
}

// JoinRoomByLink 处理深链并在邀请有效时直接加入房间。
// 深链处理已经计过一次使用，这里不再重复计数。
func (s *RoomService) JoinRoomByLink(ctx context.Context, userID, rawURL string) (domain.DeepLinkResult, error) {
	if userID == "" {
		return domain.DeepLinkResult{}, validationError("userId is required")
	}
	result := s.invites.HandleDeepLink(ctx, rawURL)
	if result.Action != domain.DeepLinkJoinRoom {
		return result, nil
	}
	info, err := s.join(ctx, userID, result.Room, result.Code, false)
	if err != nil {
		if errors.Is(err, ErrInvalidRoomState) {
			return domain.DeepLinkResult{
				Action:  domain.DeepLinkInvalidCode,
				Code:    result.Code,
				RoomID:  result.RoomID,
				Message: err.Error(),
			}, nil
		}
		return domain.DeepLinkResult{}, err
	}
	result.Room = info
	return result, nil
}

func (s *RoomService) join(ctx context.Context, userID string, info *domain.RoomInfo, code string, countUsage bool) (*domain.RoomInfo, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": info.RoomID, "invite_code": code})

	if !info.Status.Joinable() || info.Status == domain.RoomStatusMatched {
		logCtx.WithField("status", info.Status).Info("Join rejected: room is closed")
		return nil, fmt.Errorf("%w: room is %s", ErrInvalidRoomState, info.Status)
	}

	// 已是活跃成员时幂等，不计使用次数
	active, err := s.IsActiveMember(ctx, info.RoomID, userID)
	if err != nil {
		return nil, err
	}
	if active {
		logCtx.Debug("User already an active member")
		return s.roomInfo(ctx, info.RoomID)
	}

	// 先占用一次使用次数，有上限的邀请码不会被并发加入用超
	counted := false
	if countUsage && code != "" {
		err := s.invites.IncrementUsage(ctx, code)
		switch {
		case err == nil:
			counted = true
		case errors.Is(err, ErrInviteNotFound):
			logCtx.Info("Join rejected: invite no longer usable")
			return nil, ErrInviteNotFound
		default:
			metrics.BestEffortFailures.WithLabelValues("invite_usage").Inc()
			logCtx.WithError(err).Warn("Failed to increment invite usage")
		}
	}

	joined, err := s.addMember(ctx, info.RoomID, userID)
	if err != nil || !joined {
		if counted {
			s.invites.releaseUsage(ctx, code)
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to add room member")
			return nil, err
		}
		logCtx.Debug("User joined concurrently by another request")
		return s.roomInfo(ctx, info.RoomID)
	}

	s.adjustMemberCount(ctx, info.RoomID, 1)
	s.activateIfReady(ctx, info.RoomID)

	logCtx.Info("User joined room successfully")
	return s.roomInfo(ctx, info.RoomID)
}

// addMember 登记成员；已存在的非活跃成员会被重新激活。返回成员状态是否发生了变化。
func (s *RoomService) addMember(ctx context.Context, roomID, userID string) (bool, error) {
	member := memberToItem(&domain.Member{
		RoomID:   roomID,
		UserID:   userID,
		Role:     domain.MemberRoleMember,
		IsActive: true,
		JoinedAt: s.now(),
	})
	err := s.retry.Do(ctx, "member.put", func(ctx context.Context) error {
		return s.store.Put(ctx, repository.TableRoomMembers, member, repository.AttributeNotExists(attrUserID))
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return false, mapRepoError(err)
	}

	_, err = retryValue(ctx, s.retry, "member.reactivate", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableRoomMembers, memberKey(roomID, userID),
			repository.UpdateExpr{Set: map[string]string{attrIsActive: boolTrue}},
			repository.AttributeExists(attrUserID),
			repository.Equals(attrIsActive, boolFalse))
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrConditionFailed) {
		return false, nil
	}
	return false, mapRepoError(err)
}

// adjustMemberCount 更新成员数缓存，失败只记录日志。
func (s *RoomService) adjustMemberCount(ctx context.Context, roomID string, delta int64) {
	_, err := retryValue(ctx, s.retry, "room.member_count", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableRooms, roomKey(roomID),
			repository.UpdateExpr{
				Add: map[string]int64{attrMemberCount: delta},
				Set: map[string]string{attrUpdatedAt: formatTime(s.now())},
			},
			repository.AttributeExists(attrRoomID))
	})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("member_count").Inc()
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to update member count")
	}
}

// activateIfReady 活跃成员达到两人时把房间从 WAITING 切换到 ACTIVE。
func (s *RoomService) activateIfReady(ctx context.Context, roomID string) {
	logCtx := logrus.WithField("room_id", roomID)
	members, err := activeMembers(ctx, s.store, s.retry, roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to count members for activation")
		return
	}
	if len(members) < minActiveMembers {
		return
	}
	_, err = retryValue(ctx, s.retry, "room.activate", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableRooms, roomKey(roomID),
			repository.UpdateExpr{Set: map[string]string{
				attrStatus:    string(domain.RoomStatusActive),
				attrUpdatedAt: formatTime(s.now()),
			}},
			repository.AttributeExists(attrRoomID),
			repository.Equals(attrStatus, string(domain.RoomStatusWaiting)))
	})
	switch {
	case err == nil:
		logCtx.Info("Room activated")
	case errors.Is(err, repository.ErrConditionFailed):
		// 已经不是 WAITING
	default:
		logCtx.WithError(err).Warn("Failed to activate room")
	}
}

// LeaveRoom 把成员标记为非活跃。成员关系从不物理删除。
func (s *RoomService) LeaveRoom(ctx context.Context, userID, roomID string) error {
	if userID == "" || roomID == "" {
		return validationError("userId and roomId are required")
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	_, err := retryValue(ctx, s.retry, "member.leave", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableRoomMembers, memberKey(roomID, userID),
			repository.UpdateExpr{Set: map[string]string{attrIsActive: boolFalse}},
			repository.AttributeExists(attrUserID),
			repository.Equals(attrIsActive, boolTrue))
	})
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrNotMember
		}
		logCtx.WithError(err).Error("Failed to leave room")
		return mapRepoError(err)
	}
	s.adjustMemberCount(ctx, roomID, -1)
	logCtx.Info("User left room")
	return nil
}

// GetRoomState 返回房间当前状态和活跃成员数。
func (s *RoomService) GetRoomState(ctx context.Context, roomID string) (*domain.Room, *domain.RoomState, error) {
	if roomID == "" {
		return nil, nil, validationError("roomId is required")
	}
	room, err := loadRoom(ctx, s.store, s.retry, roomID)
	if err != nil {
		return nil, nil, err
	}
	members, err := activeMembers(ctx, s.store, s.retry, roomID)
	if err != nil {
		return nil, nil, err
	}
	var votes int64
	if room.ResultItemID != "" {
		item, err := retryValue(ctx, s.retry, "vote.tally.get", func(ctx context.Context) (repository.Item, error) {
			return s.store.Get(ctx, repository.TableVoteTallies, tallyKey(roomID, room.ResultItemID))
		})
		if err == nil {
			if t, err := itemToTally(item); err == nil {
				votes = t.Votes
			}
		}
	}
	return room, stateOf(room, votes, int64(len(members))), nil
}

// IsActiveMember 报告用户是否是房间的活跃成员。
func (s *RoomService) IsActiveMember(ctx context.Context, roomID, userID string) (bool, error) {
	member, err := loadMember(ctx, s.store, s.retry, roomID, userID)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.IsActive, nil
}

func (s *RoomService) roomInfo(ctx context.Context, roomID string) (*domain.RoomInfo, error) {
	room, err := loadRoom(ctx, s.store, s.retry, roomID)
	if err != nil {
		return nil, err
	}
	return room.Info(), nil
}
