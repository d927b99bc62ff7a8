package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"movie-match/internal/domain"
	"movie-match/internal/repository"
)

// 记录属性名
const (
	attrRoomID            = "roomId"
	attrUserID            = "userId"
	attrItemID            = "itemId"
	attrRoomItem          = "roomItem"
	attrCode              = "code"
	attrName              = "name"
	attrStatus            = "status"
	attrResultItemID      = "resultItemId"
	attrHostID            = "hostId"
	attrMemberCount       = "memberCount"
	attrRole              = "role"
	attrIsActive          = "isActive"
	attrJoinedAt          = "joinedAt"
	attrVotes             = "votes"
	attrVotedAt           = "votedAt"
	attrCreatedBy         = "createdBy"
	attrCreatedAt         = "createdAt"
	attrUpdatedAt         = "updatedAt"
	attrExpiresAt         = "expiresAt"
	attrUsageCount        = "usageCount"
	attrMaxUsage          = "maxUsage"
	attrDeactivatedReason = "deactivatedReason"
	attrItems             = "items"
	attrGenreFilters      = "genreFilters"
	attrCachedAt          = "cachedAt"
	attrTTL               = "ttl"
	attrRequestID         = "requestId"
)

const (
	boolTrue  = "true"
	boolFalse = "false"
)

// recordError 表示存储中的记录无法解码为领域对象。
func recordError(table, attr string, err error) error {
	return fmt.Errorf("%w: corrupt %s record (%s): %v", ErrValidation, table, attr, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(item repository.Item, table, attr string) (time.Time, error) {
	raw, ok := item[attr]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, recordError(table, attr, err)
	}
	return t, nil
}

func formatBool(b bool) string {
	if b {
		return boolTrue
	}
	return boolFalse
}

func parseInt(item repository.Item, table, attr string) (int64, error) {
	raw, ok := item[attr]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, recordError(table, attr, err)
	}
	return n, nil
}

func roomKey(roomID string) repository.Key {
	return repository.Key{Partition: roomID}
}

func memberKey(roomID, userID string) repository.Key {
	return repository.Key{Partition: roomID, Sort: userID}
}

func tallyKey(roomID, itemID string) repository.Key {
	return repository.Key{Partition: roomID, Sort: itemID}
}

func roomItem(roomID, itemID string) string {
	return roomID + "#" + itemID
}

func voteRecordKey(userID, roomID, itemID string) repository.Key {
	return repository.Key{Partition: userID, Sort: roomItem(roomID, itemID)}
}

func inviteKey(code string) repository.Key {
	return repository.Key{Partition: code}
}

// --- Room ---

func roomToItem(r *domain.Room) repository.Item {
	item := repository.Item{
		attrRoomID:      r.ID,
		attrName:        r.Name,
		attrStatus:      string(r.Status),
		attrHostID:      r.HostID,
		attrMemberCount: strconv.FormatInt(r.MemberCount, 10),
		attrCreatedAt:   formatTime(r.CreatedAt),
		attrUpdatedAt:   formatTime(r.UpdatedAt),
	}
	if r.ResultItemID != "" {
		item[attrResultItemID] = r.ResultItemID
	}
	return item
}

func itemToRoom(item repository.Item) (*domain.Room, error) {
	const table = repository.TableRooms
	r := &domain.Room{
		ID:           item[attrRoomID],
		Name:         item[attrName],
		Status:       domain.RoomStatus(item[attrStatus]),
		ResultItemID: item[attrResultItemID],
		HostID:       item[attrHostID],
	}
	var err error
	if r.MemberCount, err = parseInt(item, table, attrMemberCount); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(item, table, attrCreatedAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(item, table, attrUpdatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// --- Member ---

func memberToItem(m *domain.Member) repository.Item {
	return repository.Item{
		attrRoomID:   m.RoomID,
		attrUserID:   m.UserID,
		attrRole:     string(m.Role),
		attrIsActive: formatBool(m.IsActive),
		attrJoinedAt: formatTime(m.JoinedAt),
	}
}

func itemToMember(item repository.Item) (*domain.Member, error) {
	joinedAt, err := parseTime(item, repository.TableRoomMembers, attrJoinedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Member{
		RoomID:   item[attrRoomID],
		UserID:   item[attrUserID],
		Role:     domain.MemberRole(item[attrRole]),
		IsActive: item[attrIsActive] == boolTrue,
		JoinedAt: joinedAt,
	}, nil
}

// --- Votes ---

func voteRecordToItem(v *domain.UserVoteRecord) repository.Item {
	return repository.Item{
		attrUserID:    v.UserID,
		attrRoomItem:  roomItem(v.RoomID, v.ItemID),
		attrRoomID:    v.RoomID,
		attrItemID:    v.ItemID,
		attrVotedAt:   formatTime(v.VotedAt),
		attrRequestID: v.RequestID,
	}
}

func tallyToItem(t *domain.VoteTally) repository.Item {
	return repository.Item{
		attrRoomID: t.RoomID,
		attrItemID: t.ItemID,
		attrVotes:  strconv.FormatInt(t.Votes, 10),
	}
}

func itemToTally(item repository.Item) (*domain.VoteTally, error) {
	votes, err := parseInt(item, repository.TableVoteTallies, attrVotes)
	if err != nil {
		return nil, err
	}
	return &domain.VoteTally{RoomID: item[attrRoomID], ItemID: item[attrItemID], Votes: votes}, nil
}

// --- Invites ---

func inviteToItem(c *domain.InviteCode) repository.Item {
	item := repository.Item{
		attrCode:       c.Code,
		attrRoomID:     c.RoomID,
		attrCreatedBy:  c.CreatedBy,
		attrCreatedAt:  formatTime(c.CreatedAt),
		attrExpiresAt:  formatTime(c.ExpiresAt),
		attrIsActive:   formatBool(c.IsActive),
		attrUsageCount: strconv.FormatInt(c.UsageCount, 10),
	}
	if c.MaxUsage != nil {
		item[attrMaxUsage] = strconv.FormatInt(*c.MaxUsage, 10)
	}
	if c.DeactivatedReason != "" {
		item[attrDeactivatedReason] = c.DeactivatedReason
	}
	if c.RequestID != "" {
		item[attrRequestID] = c.RequestID
	}
	return item
}

func itemToInvite(item repository.Item) (*domain.InviteCode, error) {
	const table = repository.TableInviteCodes
	c := &domain.InviteCode{
		Code:              item[attrCode],
		RoomID:            item[attrRoomID],
		CreatedBy:         item[attrCreatedBy],
		IsActive:          item[attrIsActive] == boolTrue,
		DeactivatedReason: item[attrDeactivatedReason],
		RequestID:         item[attrRequestID],
	}
	var err error
	if c.CreatedAt, err = parseTime(item, table, attrCreatedAt); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(item, table, attrExpiresAt); err != nil {
		return nil, err
	}
	if c.UsageCount, err = parseInt(item, table, attrUsageCount); err != nil {
		return nil, err
	}
	if _, ok := item[attrMaxUsage]; ok {
		maxUsage, err := parseInt(item, table, attrMaxUsage)
		if err != nil {
			return nil, err
		}
		c.MaxUsage = &maxUsage
	}
	return c, nil
}

func roomInviteToItem(ref *domain.RoomInviteRef) repository.Item {
	return repository.Item{
		attrRoomID:    ref.RoomID,
		attrCode:      ref.Code,
		attrCreatedAt: formatTime(ref.CreatedAt),
		attrExpiresAt: formatTime(ref.ExpiresAt),
	}
}

func itemToRoomInvite(item repository.Item) (*domain.RoomInviteRef, error) {
	const table = repository.TableRoomInvites
	ref := &domain.RoomInviteRef{RoomID: item[attrRoomID], Code: item[attrCode]}
	var err error
	if ref.CreatedAt, err = parseTime(item, table, attrCreatedAt); err != nil {
		return nil, err
	}
	if ref.ExpiresAt, err = parseTime(item, table, attrExpiresAt); err != nil {
		return nil, err
	}
	return ref, nil
}

// --- Content cache ---

func contentSetToItem(set *domain.CachedContentSet) (repository.Item, error) {
	items, err := json.Marshal(set.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cached items: %w", err)
	}
	filters := set.GenreFilters
	if filters == nil {
		filters = []int{}
	}
	genres, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode genre filters: %w", err)
	}
	return repository.Item{
		attrRoomID:       set.RoomID,
		attrItems:        string(items),
		attrGenreFilters: string(genres),
		attrCachedAt:     formatTime(set.CachedAt),
		attrTTL:          formatTime(set.TTL),
	}, nil
}

func itemToContentSet(item repository.Item) (*domain.CachedContentSet, error) {
	const table = repository.TableContentCache
	set := &domain.CachedContentSet{RoomID: item[attrRoomID]}
	if err := json.Unmarshal([]byte(item[attrItems]), &set.Items); err != nil {
		return nil, recordError(table, attrItems, err)
	}
	if raw := item[attrGenreFilters]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &set.GenreFilters); err != nil {
			return nil, recordError(table, attrGenreFilters, err)
		}
	}
	var err error
	if set.CachedAt, err = parseTime(item, table, attrCachedAt); err != nil {
		return nil, err
	}
	if set.TTL, err = parseTime(item, table, attrTTL); err != nil {
		return nil, err
	}
	if set.TTL.IsZero() {
		return nil, recordError(table, attrTTL, errors.New("missing"))
	}
	return set, nil
}
