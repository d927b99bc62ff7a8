package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
	"movie-match/internal/metrics"
	"movie-match/internal/repository"
)

const (
	defaultInviteExpiryHours = 168 // 7 天
	maxCodeAttempts          = 10
	maxUsageCASAttempts      = 8
)

// InviteConfig 邀请码服务配置
type InviteConfig struct {
	LinkHost           string // 深链主机名，例如 moviematch.app
	DefaultExpiryHours int
}

// InviteOptions 生成邀请链接时的可选参数
type InviteOptions struct {
	ExpiryHours int    // 0 表示使用默认值
	MaxUsage    *int64 // nil 表示不限次数
}

// InviteService 负责邀请码的生成、校验、深链处理和停用。
type InviteService struct {
	store  repository.KeyValueStore
	retry  *RetryPolicy
	cfg    InviteConfig
	now    func() time.Time
	random io.Reader
	newID  func() string
}

// NewInviteService 创建 InviteService 实例。
func NewInviteService(store repository.KeyValueStore, retry *RetryPolicy, cfg InviteConfig, opts ...Option) *InviteService {
	if store == nil {
		panic("KeyValueStore cannot be nil for InviteService")
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if cfg.DefaultExpiryHours <= 0 {
		cfg.DefaultExpiryHours = defaultInviteExpiryHours
	}
	o := buildOptions(opts)
	return &InviteService{store: store, retry: retry, cfg: cfg, now: o.now, random: o.random, newID: o.newID}
}

// LinkFor 返回邀请码对应的分享链接。
func (s *InviteService) LinkFor(code string) string {
	return fmt.Sprintf("https://%s/room/%s", s.cfg.LinkHost, code)
}

// GenerateInviteLink 为房间生成一个全局唯一的邀请码。
func (s *InviteService) GenerateInviteLink(ctx context.Context, roomID, createdBy string, opts InviteOptions) (*domain.InviteLink, error) {
	if roomID == "" || createdBy == "" {
		return nil, validationError("roomId and createdBy are required")
	}
	if opts.ExpiryHours < 0 {
		return nil, validationError("expiry hours must not be negative")
	}
	if opts.MaxUsage != nil && *opts.MaxUsage <= 0 {
		return nil, validationError("max usage must be positive")
	}
	expiryHours := opts.ExpiryHours
	if expiryHours == 0 {
		expiryHours = s.cfg.DefaultExpiryHours
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "created_by": createdBy})

	now := s.now().UTC()
	invite := &domain.InviteCode{
		RoomID:    roomID,
		CreatedBy: createdBy,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(expiryHours) * time.Hour),
		IsActive:  true,
		MaxUsage:  opts.MaxUsage,
	}

	code, err := s.claimUniqueCode(ctx, invite)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate invite code")
		return nil, err
	}
	metrics.InviteCodesIssued.Inc()
	logCtx = logCtx.WithField("invite_code", code)

	// 二级记录只用于按房间列出邀请码，失败不影响邀请码本身
	ref := roomInviteToItem(&domain.RoomInviteRef{RoomID: roomID, Code: code, CreatedAt: invite.CreatedAt, ExpiresAt: invite.ExpiresAt})
	err = s.retry.Do(ctx, "invite.ref.put", func(ctx context.Context) error {
		return s.store.Put(ctx, repository.TableRoomInvites, ref)
	})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("room_invite_ref").Inc()
		logCtx.WithError(err).Warn("Failed to write room invite reference")
	}

	logCtx.Info("Invite code generated")
	return &domain.InviteLink{
		Code:      code,
		URL:       s.LinkFor(code),
		RoomID:    roomID,
		ExpiresAt: invite.ExpiresAt,
		MaxUsage:  invite.MaxUsage,
	}, nil
}

// claimUniqueCode 随机抽取邀请码直到成功写入一个此前不存在的码。
// 先 Get 判断存在性，再用 attribute_not_exists 条件写；两步之间被抢占同样算作碰撞。
func (s *InviteService) claimUniqueCode(ctx context.Context, invite *domain.InviteCode) (string, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.drawCode()
		if err != nil {
			return "", fmt.Errorf("%w: failed to read random source: %w", ErrInternalServer, err)
		}

		_, err = retryValue(ctx, s.retry, "invite.get", func(ctx context.Context) (repository.Item, error) {
			return s.store.Get(ctx, repository.TableInviteCodes, inviteKey(code))
		})
		if err == nil {
			metrics.InviteCodeCollisions.Inc()
			logrus.WithFields(logrus.Fields{"attempt": attempt, "invite_code": code}).Debug("Invite code collision")
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return "", mapRepoError(err)
		}

		invite.Code = code
		invite.RequestID = s.newID()
		item := inviteToItem(invite)
		err = s.retry.Do(ctx, "invite.put", func(ctx context.Context) error {
			return s.store.Put(ctx, repository.TableInviteCodes, item, repository.AttributeNotExists(attrCode))
		})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrConditionFailed) {
			return "", mapRepoError(err)
		}
		// 条件失败可能是本次请求此前已提交但应答丢失的写入
		owned, err := s.ownsCode(ctx, code, invite.RequestID)
		if err != nil {
			return "", err
		}
		if owned {
			return code, nil
		}
		metrics.InviteCodeCollisions.Inc()
	}
	return "", fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, maxCodeAttempts)
}

func (s *InviteService) ownsCode(ctx context.Context, code, requestID string) (bool, error) {
	item, err := retryValue(ctx, s.retry, "invite.get", func(ctx context.Context) (repository.Item, error) {
		return s.store.Get(ctx, repository.TableInviteCodes, inviteKey(code))
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapRepoError(err)
	}
	return item[attrRequestID] == requestID, nil
}

// drawCode 用拒绝采样从字母表中均匀抽取字符。
func (s *InviteService) drawCode() (string, error) {
	// 大于等于 limit 的字节会引入取模偏差，丢弃
	const limit = 256 - 256%len(inviteCodeAlphabet)
	var b [1]byte
	var sb strings.Builder
	sb.Grow(inviteCodeLength)
	for sb.Len() < inviteCodeLength {
		if _, err := io.ReadFull(s.random, b[:]); err != nil {
			return "", err
		}
		if int(b[0]) >= limit {
			continue
		}
		sb.WriteByte(inviteCodeAlphabet[int(b[0])%len(inviteCodeAlphabet)])
	}
	return sb.String(), nil
}

// ValidateInviteCode 校验邀请码并返回房间摘要。过期或用满的邀请码会被顺带停用。
// 所有失败路径都返回 ErrInviteNotFound，存储故障除外。
func (s *InviteService) ValidateInviteCode(ctx context.Context, rawCode string) (*domain.RoomInfo, error) {
	code, ok := NormalizeInviteCode(rawCode)
	if !ok {
		metrics.InviteValidations.WithLabelValues("malformed").Inc()
		return nil, ErrInviteNotFound
	}
	logCtx := logrus.WithField("invite_code", code)

	invite, err := s.getInvite(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInviteNotFound) {
			metrics.InviteValidations.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	if !invite.IsActive {
		metrics.InviteValidations.WithLabelValues("inactive").Inc()
		return nil, ErrInviteNotFound
	}
	if invite.Expired(s.now()) {
		metrics.InviteValidations.WithLabelValues("expired").Inc()
		logCtx.Info("Invite code expired, deactivating")
		s.deactivateBestEffort(ctx, code, domain.InviteDeactivatedExpired)
		return nil, ErrInviteNotFound
	}
	if invite.UsageExhausted() {
		metrics.InviteValidations.WithLabelValues("exhausted").Inc()
		logCtx.Info("Invite code usage exhausted, deactivating")
		s.deactivateBestEffort(ctx, code, domain.InviteDeactivatedUsageExceeded)
		return nil, ErrInviteNotFound
	}

	room, err := loadRoom(ctx, s.store, s.retry, invite.RoomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			metrics.InviteValidations.WithLabelValues("room_missing").Inc()
			logCtx.WithField("room_id", invite.RoomID).Warn("Invite code points to a missing room")
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	metrics.InviteValidations.WithLabelValues("valid").Inc()
	return room.Info(), nil
}

// HandleDeepLink 解析深链并校验其中的邀请码。成功时计一次使用。
func (s *InviteService) HandleDeepLink(ctx context.Context, rawURL string) domain.DeepLinkResult {
	code, ok := ParseDeepLink(rawURL, s.cfg.LinkHost)
	if !ok {
		return domain.DeepLinkResult{Action: domain.DeepLinkInvalidCode, Message: "unrecognized invite link"}
	}

	info, err := s.ValidateInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInviteNotFound) {
			return domain.DeepLinkResult{Action: domain.DeepLinkInvalidCode, Code: code, Message: err.Error()}
		}
		logrus.WithField("invite_code", code).WithError(err).Error("Failed to handle deep link")
		return domain.DeepLinkResult{Action: domain.DeepLinkError, Code: code, Message: "unable to process invite link"}
	}
	if !info.Status.Joinable() {
		return domain.DeepLinkResult{
			Action:  domain.DeepLinkInvalidCode,
			Code:    code,
			RoomID:  info.RoomID,
			Message: "room is no longer available",
		}
	}

	if err := s.IncrementUsage(ctx, code); err != nil {
		if errors.Is(err, ErrInviteNotFound) {
			return domain.DeepLinkResult{Action: domain.DeepLinkInvalidCode, Code: code, Message: err.Error()}
		}
		metrics.BestEffortFailures.WithLabelValues("invite_usage").Inc()
		logrus.WithField("invite_code", code).WithError(err).Warn("Failed to increment invite usage")
	}
	return domain.DeepLinkResult{Action: domain.DeepLinkJoinRoom, Code: code, RoomID: info.RoomID, Room: info}
}

// IncrementUsage 把邀请码使用次数加一。有上限的邀请码以观察到的次数做比较并交换，
// 并发加入不会越过上限；已停用或已用满时返回 ErrInviteNotFound。
func (s *InviteService) IncrementUsage(ctx context.Context, code string) error {
	for attempt := 0; attempt < maxUsageCASAttempts; attempt++ {
		invite, err := s.getInvite(ctx, code)
		if err != nil {
			return err
		}
		if !invite.IsActive || invite.UsageExhausted() {
			return ErrInviteNotFound
		}

		conds := []repository.Condition{
			repository.AttributeExists(attrCode),
			repository.Equals(attrIsActive, boolTrue),
		}
		if invite.MaxUsage != nil {
			conds = append(conds, repository.Equals(attrUsageCount, strconv.FormatInt(invite.UsageCount, 10)))
		}
		_, err = retryValue(ctx, s.retry, "invite.usage", func(ctx context.Context) (repository.Item, error) {
			return s.store.Update(ctx, repository.TableInviteCodes, inviteKey(code),
				repository.UpdateExpr{Add: map[string]int64{attrUsageCount: 1}}, conds...)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConditionFailed) {
			return mapRepoError(err)
		}
		// 被并发的加入抢先，重新读取后再判断
	}
	return fmt.Errorf("%w: invite %s usage kept changing", ErrTemporarilyUnavailable, code)
}

// releaseUsage 退回一次使用次数，失败只记录日志。
func (s *InviteService) releaseUsage(ctx context.Context, code string) {
	_, err := retryValue(ctx, s.retry, "invite.usage.release", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableInviteCodes, inviteKey(code),
			repository.UpdateExpr{Add: map[string]int64{attrUsageCount: -1}},
			repository.AttributeExists(attrCode))
	})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("invite_usage").Inc()
		logrus.WithField("invite_code", code).WithError(err).Warn("Failed to release invite usage")
	}
}

// DeactivateInviteCode 手动停用邀请码，只有房主或邀请码创建者可以操作。
// 已停用的邀请码再次停用不报错。
func (s *InviteService) DeactivateInviteCode(ctx context.Context, rawCode, requestedBy string) error {
	code, ok := NormalizeInviteCode(rawCode)
	if !ok {
		return ErrInviteNotFound
	}
	if requestedBy == "" {
		return validationError("requestedBy is required")
	}
	invite, err := s.getInvite(ctx, code)
	if err != nil {
		return err
	}
	if invite.CreatedBy != requestedBy {
		room, err := loadRoom(ctx, s.store, s.retry, invite.RoomID)
		if err != nil && !errors.Is(err, ErrRoomNotFound) {
			return err
		}
		if room == nil || room.HostID != requestedBy {
			return ErrForbidden
		}
	}

	err = s.deactivate(ctx, code, domain.InviteDeactivatedManually)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil
	}
	if err != nil {
		return mapRepoError(err)
	}
	logrus.WithFields(logrus.Fields{"invite_code": code, "requested_by": requestedBy}).Info("Invite code deactivated")
	return nil
}

// ListRoomInvites 通过二级记录列出房间的邀请码 (包括已停用的)。
func (s *InviteService) ListRoomInvites(ctx context.Context, roomID string) ([]*domain.InviteCode, error) {
	if roomID == "" {
		return nil, validationError("roomId is required")
	}
	items, err := retryValue(ctx, s.retry, "invite.ref.query", func(ctx context.Context) ([]repository.Item, error) {
		return s.store.Query(ctx, repository.QueryInput{Table: repository.TableRoomInvites, Partition: roomID})
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	invites := make([]*domain.InviteCode, 0, len(items))
	for _, item := range items {
		ref, err := itemToRoomInvite(item)
		if err != nil {
			return nil, err
		}
		invite, err := s.getInvite(ctx, ref.Code)
		if errors.Is(err, ErrInviteNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	return invites, nil
}

func (s *InviteService) getInvite(ctx context.Context, code string) (*domain.InviteCode, error) {
	item, err := retryValue(ctx, s.retry, "invite.get", func(ctx context.Context) (repository.Item, error) {
		return s.store.Get(ctx, repository.TableInviteCodes, inviteKey(code))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, mapRepoError(err)
	}
	return itemToInvite(item)
}

// deactivate 条件更新 isActive=false，第一个停用原因生效。
func (s *InviteService) deactivate(ctx context.Context, code, reason string) error {
	_, err := retryValue(ctx, s.retry, "invite.deactivate", func(ctx context.Context) (repository.Item, error) {
		return s.store.Update(ctx, repository.TableInviteCodes, inviteKey(code),
			repository.UpdateExpr{Set: map[string]string{
				attrIsActive:          boolFalse,
				attrDeactivatedReason: reason,
			}},
			repository.AttributeExists(attrCode),
			repository.Equals(attrIsActive, boolTrue))
	})
	return err
}

func (s *InviteService) deactivateBestEffort(ctx context.Context, code, reason string) {
	err := s.deactivate(ctx, code, reason)
	if err != nil && !errors.Is(err, repository.ErrConditionFailed) {
		metrics.BestEffortFailures.WithLabelValues("invite_deactivate").Inc()
		logrus.WithFields(logrus.Fields{"invite_code": code, "reason": reason}).
			WithError(err).Warn("Failed to deactivate invite code")
	}
}
