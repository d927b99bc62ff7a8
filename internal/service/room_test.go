package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"movie-match/internal/domain"
	"movie-match/internal/repository"
	"movie-match/internal/service"
	servicemocks "movie-match/internal/service/mocks"
)

type roomFixture struct {
	store   repository.KeyValueStore
	clock   *fakeClock
	invites *service.InviteService
	rooms   *service.RoomService
	votes   *service.VoteService
	pub     *recordingPublisher
}

func newRoomFixture(t *testing.T, store repository.KeyValueStore, scheduler service.PrecacheScheduler) *roomFixture {
	t.Helper()
	clock := newFakeClock()
	ids := 0
	nextID := func() string {
		ids++
		return fmt.Sprintf("room-%d", ids)
	}
	invites := newInviteService(store, clock)
	pub := &recordingPublisher{}
	return &roomFixture{
		store:   store,
		clock:   clock,
		invites: invites,
		rooms: service.NewRoomService(store, invites, scheduler, fastRetry(),
			service.WithClock(clock.Now), service.WithIDGenerator(nextID)),
		votes: service.NewVoteService(store, pub, fastRetry(), service.WithClock(clock.Now)),
		pub:   pub,
	}
}

func TestRoomService_CreateRoom(t *testing.T) {
	store := newMemoryStore()
	scheduler := servicemocks.NewPrecacheScheduler(t)
	scheduler.On("SchedulePrecache", mock.Anything, "room-1", []int{28, 35}).Return(nil).Once()
	f := newRoomFixture(t, store, scheduler)

	res, err := f.rooms.CreateRoom(context.Background(), "alice", "  Friday night  ", []int{28, 35})
	require.NoError(t, err)
	assert.Equal(t, "room-1", res.Room.ID)
	assert.Equal(t, "Friday night", res.Room.Name)
	assert.Equal(t, domain.RoomStatusWaiting, res.Room.Status)
	assert.Equal(t, int64(1), res.Room.MemberCount)
	require.NotNil(t, res.Invite)
	assert.Equal(t, "room-1", res.Invite.RoomID)

	host := getItem(t, store, repository.TableRoomMembers, repository.Key{Partition: "room-1", Sort: "alice"})
	assert.Equal(t, "HOST", host["role"])
	assert.Equal(t, "true", host["isActive"])

	info, err := f.invites.ValidateInviteCode(context.Background(), res.Invite.Code)
	require.NoError(t, err)
	assert.Equal(t, "room-1", info.RoomID)
}

func TestRoomService_CreateRoom_SchedulerFailureIgnored(t *testing.T) {
	scheduler := servicemocks.NewPrecacheScheduler(t)
	scheduler.On("SchedulePrecache", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()
	f := newRoomFixture(t, newMemoryStore(), scheduler)

	res, err := f.rooms.CreateRoom(context.Background(), "alice", "Movie night", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Invite.Code)
}

func TestRoomService_CreateRoom_Validation(t *testing.T) {
	f := newRoomFixture(t, newMemoryStore(), nil)
	ctx := context.Background()

	_, err := f.rooms.CreateRoom(ctx, "", "Movie night", nil)
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = f.rooms.CreateRoom(ctx, "alice", "   ", nil)
	assert.ErrorIs(t, err, service.ErrValidation)
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.rooms.CreateRoom(ctx, "alice", string(long), nil)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestRoomService_JoinRoom_ActivatesAtTwoMembers(t *testing.T) {
	store := newMemoryStore()
	f := newRoomFixture(t, store, nil)
	ctx := context.Background()

	res, err := f.rooms.CreateRoom(ctx, "alice", "Movie night", nil)
	require.NoError(t, err)

	info, err := f.rooms.JoinRoom(ctx, "bob", res.Invite.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusActive, info.Status)
	assert.Equal(t, int64(2), info.MemberCount)

	invite := getItem(t, store, repository.TableInviteCodes, repository.Key{Partition: res.Invite.Code})
	assert.Equal(t, "1", invite["usageCount"])

	// 重复加入是幂等的
	info, err = f.rooms.JoinRoom(ctx, "bob", res.Invite.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.MemberCount)
	invite = getItem(t, store, repository.TableInviteCodes, repository.Key{Partition: res.Invite.Code})
	assert.Equal(t, "1", invite["usageCount"])
}

func TestRoomService_JoinRoom_Rejections(t *testing.T) {
	store := newMemoryStore()
	f := newRoomFixture(t, store, nil)
	ctx := context.Background()
	seedRoom(t, store, "matched", "alice", domain.RoomStatusMatched)
	seedInvite(t, store, "MATCH1", "matched", nil)

	_, err := f.rooms.JoinRoom(ctx, "bob", "NOPE00")
	assert.ErrorIs(t, err, service.ErrInviteNotFound)
	_, err = f.rooms.JoinRoom(ctx, "bob", "MATCH1")
	assert.ErrorIs(t, err, service.ErrInvalidRoomState)
	_, err = f.rooms.JoinRoom(ctx, "", "MATCH1")
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = store.Get(ctx, repository.TableRoomMembers, repository.Key{Partition: "matched", Sort: "bob"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRoomService_JoinRoom_MaxUsageOne(t *testing.T) {
	f := newRoomFixture(t, newMemoryStore(), nil)
	ctx := context.Background()
	res, err := f.rooms.CreateRoom(ctx, "alice", "Movie night", nil)
	require.NoError(t, err)
	one := int64(1)
	link, err := f.invites.GenerateInviteLink(ctx, res.Room.ID, "alice", service.InviteOptions{MaxUsage: &one})
	require.NoError(t, err)

	_, err = f.rooms.JoinRoom(ctx, "bob", link.Code)
	require.NoError(t, err)
	_, err = f.rooms.JoinRoom(ctx, "carol", link.Code)
	assert.ErrorIs(t, err, service.ErrInviteNotFound)
}

func TestRoomService_JoinRoom_RacingJoinCannotExceedMaxUsage(t *testing.T) {
	inner := newMemoryStore()
	seedRoom(t, inner, "r1", "alice", domain.RoomStatusWaiting)
	seedMember(t, inner, "r1", "alice", true)
	seedInvite(t, inner, "LIMIT1", "r1", repository.Item{"maxUsage": "1"})
	// 校验读到 usageCount=0 之后，另一个加入先用掉了唯一的一次
	f := newRoomFixture(t, &interleavingStore{KeyValueStore: inner}, nil)

	_, err := f.rooms.JoinRoom(context.Background(), "carol", "LIMIT1")
	assert.ErrorIs(t, err, service.ErrInviteNotFound)
	assert.Equal(t, "1", getItem(t, inner, repository.TableInviteCodes, repository.Key{Partition: "LIMIT1"})["usageCount"])
	_, err = inner.Get(context.Background(), repository.TableRoomMembers, repository.Key{Partition: "r1", Sort: "carol"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRoomService_JoinRoom_ConcurrentJoinsRespectMaxUsage(t *testing.T) {
	store := newMemoryStore()
	f := newRoomFixture(t, store, nil)
	ctx := context.Background()
	res, err := f.rooms.CreateRoom(ctx, "alice", "Movie night", nil)
	require.NoError(t, err)
	two := int64(2)
	link, err := f.invites.GenerateInviteLink(ctx, res.Room.ID, "alice", service.InviteOptions{MaxUsage: &two})
	require.NoError(t, err)

	const joiners = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	joined := 0
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.rooms.JoinRoom(ctx, fmt.Sprintf("user-%d", i), link.Code)
			if err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, service.ErrInviteNotFound)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, joined)
	invite := getItem(t, store, repository.TableInviteCodes, repository.Key{Partition: link.Code})
	assert.Equal(t, "2", invite["usageCount"])
	_, state, err := f.rooms.GetRoomState(ctx, res.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.TotalMembers)
}

func TestRoomService_CreateRoom_InviteFailureDeactivatesRoom(t *testing.T) {
	store := newMemoryStore()
	seedInvite(t, store, "AAAAAA", "other", nil)
	random := bytes.Repeat(codeBytes("A"), 6*10)
	invites := newInviteService(store, newFakeClock(), service.WithRandom(bytes.NewReader(random)))
	rooms := service.NewRoomService(store, invites, nil, fastRetry(),
		service.WithIDGenerator(func() string { return "orphan" }))

	res, err := rooms.CreateRoom(context.Background(), "alice", "Movie night", nil)
	assert.ErrorIs(t, err, service.ErrGenerationExhausted)
	assert.Nil(t, res)

	room := getItem(t, store, repository.TableRooms, repository.Key{Partition: "orphan"})
	assert.Equal(t, string(domain.RoomStatusInactive), room["status"])
}

func TestRoomService_LeaveAndRejoin(t *testing.T) {
	store := newMemoryStore()
	f := newRoomFixture(t, store, nil)
	ctx := context.Background()
	res, err := f.rooms.CreateRoom(ctx, "alice", "Movie night", nil)
	require.NoError(t, err)
	_, err = f.rooms.JoinRoom(ctx, "bob", res.Invite.Code)
	require.NoError(t, err)

	require.NoError(t, f.rooms.LeaveRoom(ctx, "bob", res.Room.ID))
	assert.ErrorIs(t, f.rooms.LeaveRoom(ctx, "bob", res.Room.ID), service.ErrNotMember)
	assert.ErrorIs(t, f.rooms.LeaveRoom(ctx, "nobody", res.Room.ID), service.ErrNotMember)

	_, err = f.votes.ProcessVote(ctx, "bob", res.Room.ID, "m1")
	assert.ErrorIs(t, err, service.ErrNotMember)

	room, state, err := f.rooms.GetRoomState(ctx, res.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.MemberCount)
	assert.Equal(t, int64(1), state.TotalMembers)

	info, err := f.rooms.JoinRoom(ctx, "bob", res.Invite.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.MemberCount)
	member := getItem(t, store, repository.TableRoomMembers, repository.Key{Partition: res.Room.ID, Sort: "bob"})
	assert.Equal(t, "true", member["isActive"])
	assert.Equal(t, "MEMBER", member["role"])
}

func TestRoomService_JoinRoomByLink(t *testing.T) {
	store := newMemoryStore()
	f := newRoomFixture(t, store, nil)
	ctx := context.Background()
	res, err := f.rooms.CreateRoom(ctx, "alice", "Movie night", nil)
	require.NoError(t, err)

	result, err := f.rooms.JoinRoomByLink(ctx, "bob", res.Invite.URL)
	require.NoError(t, err)
	assert.Equal(t, domain.DeepLinkJoinRoom, result.Action)
	require.NotNil(t, result.Room)
	assert.Equal(t, domain.RoomStatusActive, result.Room.Status)

	invite := getItem(t, store, repository.TableInviteCodes, repository.Key{Partition: res.Invite.Code})
	assert.Equal(t, "1", invite["usageCount"], "usage is counted once per link join")

	result, err = f.rooms.JoinRoomByLink(ctx, "carol", "https://elsewhere.example/room/"+res.Invite.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.DeepLinkInvalidCode, result.Action)
}

func TestRoomService_EndToEndMatch(t *testing.T) {
	f := newRoomFixture(t, newMemoryStore(), nil)
	ctx := context.Background()
	res, err := f.rooms.CreateRoom(ctx, "alice", "Movie night", []int{28})
	require.NoError(t, err)
	for _, u := range []string{"bob", "carol"} {
		_, err := f.rooms.JoinRoom(ctx, u, res.Invite.Code)
		require.NoError(t, err)
	}

	for _, u := range []string{"alice", "bob"} {
		state, err := f.votes.ProcessVote(ctx, u, res.Room.ID, "603")
		require.NoError(t, err)
		assert.Equal(t, domain.RoomStatusActive, state.Status)
		assert.Equal(t, int64(3), state.TotalMembers)
	}
	state, err := f.votes.ProcessVote(ctx, "carol", res.Room.ID, "603")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusMatched, state.Status)
	assert.Equal(t, "603", state.ResultItemID)

	_, err = f.rooms.JoinRoom(ctx, "dave", res.Invite.Code)
	assert.ErrorIs(t, err, service.ErrInvalidRoomState, "matched rooms are closed to new members")

	room, state, err := f.rooms.GetRoomState(ctx, res.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusMatched, room.Status)
	assert.Equal(t, int64(3), state.CurrentVotes)

	matches := f.pub.ofType(domain.EventMatchFound)
	require.Len(t, matches, 1)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, matches[0].Participants)
}

func TestRoomService_GetRoomState_NotFound(t *testing.T) {
	f := newRoomFixture(t, newMemoryStore(), nil)
	_, _, err := f.rooms.GetRoomState(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}
