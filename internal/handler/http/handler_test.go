package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voicemaster/internal/domain"
	httpHandler "voicemaster/internal/handler/http"
	"voicemaster/internal/middleware"
	"voicemaster/internal/platform/platformtest"
	"voicemaster/internal/repository"
	"voicemaster/internal/repository/mocks"
	"voicemaster/internal/service"
	"voicemaster/internal/tasks"
)

const (
	guildID   = "g1"
	channelID = "vc1"
	ownerID   = "owner"
	guestID   = "guest"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type apiFixture struct {
	plat     *platformtest.Fake
	lobbies  *mocks.LobbyRepository
	channels *mocks.ChannelRepository
	enqueuer *stubEnqueuer
	router   *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	plat := platformtest.New()
	plat.AddGuild(guildID, 96000)
	plat.AddChannel(guildID, channelID, "Owner's channel", "")
	plat.AddMember(guildID, ownerID, "Owner", false)
	plat.AddMember(guildID, guestID, "Guest", false)
	plat.Connect(guildID, ownerID, channelID)

	channels := mocks.NewChannelRepository(t)
	// 每次返回新的记录，服务层对记录的修改不会影响后续请求
	channels.On("FindByChannelID", mock.Anything, channelID).
		Return(func(context.Context, string) *domain.OwnedChannel {
			return &domain.OwnedChannel{ChannelID: channelID, GuildID: guildID, OwnerID: ownerID, CreatedAt: time.Now()}
		}, nil).Maybe()
	counters := mocks.NewCounterRepository(t)
	counters.On("IncrWithExpiry", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil).Maybe()
	lobbies := mocks.NewLobbyRepository(t)

	policy := service.DefaultPolicy()
	policy.PlatformTimeout = 2 * time.Second
	ownership := service.NewOwnershipService(channels, nil, plat, policy)
	control := service.NewControlService(ownership, channels, counters, nil, plat, policy)
	lobby := service.NewLobbyService(lobbies, plat, policy)
	sweep := service.NewSweepService(channels, nil, plat, policy)
	enqueuer := &stubEnqueuer{}

	router := gin.New()
	// 测试中用请求头代替 JWT
	actor := func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set(middleware.ContextUserID, user)
			c.Set(middleware.ContextGuildID, guildID)
		}
		c.Next()
	}
	api := router.Group("/api", actor)
	httpHandler.NewVoiceHandler(ownership, control).Register(api.Group("/voice"))
	httpHandler.NewAdminHandler(lobby, enqueuer, sweep).Register(api.Group("/admin"))

	return &apiFixture{plat: plat, lobbies: lobbies, channels: channels, enqueuer: enqueuer, router: router}
}

func (f *apiFixture) do(method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestVoice_Unauthenticated(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/api/voice/lock", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVoice_LockTwiceIsWarning(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/voice/lock", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["warning"])

	w = f.do(http.MethodPost, "/api/voice/lock", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["warning"])
	assert.Equal(t, "Your voice channel is already locked", body["message"])
}

func TestVoice_ErrorStatusMapping(t *testing.T) {
	f := newAPIFixture(t)
	f.plat.Connect(guildID, guestID, channelID)

	// 非所有者
	w := f.do(http.MethodPost, "/api/voice/hide", guestID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, service.ErrNotOwner.Message, decode(t, w)["error"])

	// 所有者仍在频道中
	w = f.do(http.MethodPost, "/api/voice/claim", guestID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 未连接
	f.plat.Disconnect(guildID, guestID)
	w = f.do(http.MethodGet, "/api/voice/info", guestID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.ErrNotConnected.Message, decode(t, w)["error"])
}

func TestVoice_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPut, "/api/voice/limit", ownerID, map[string]interface{}{"limit": 150})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/voice/permit", ownerID, map[string]string{"kind": "channel", "id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/voice/disconnect", ownerID, map[string]interface{}{"user_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/voice/region", ownerID, map[string]string{"region": "mars"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoice_LimitZeroAccepted(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPut, "/api/voice/limit", ownerID, map[string]interface{}{"limit": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Removed the user limit from your voice channel", decode(t, w)["message"])
}

func TestVoice_PermitRoleAndInfo(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/voice/permit", ownerID, map[string]string{"kind": "role", "id": "r1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<@&r1> can now join your voice channel", decode(t, w)["message"])

	w = f.do(http.MethodGet, "/api/voice/info", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info service.ChannelInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, channelID, info.ChannelID)
	assert.Equal(t, ownerID, info.OwnerID)
	assert.Equal(t, []string{"r1"}, info.PermittedRoles)
	assert.Equal(t, 1, info.Members)
}

func TestVoice_NSFWToggleWithoutBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/voice/nsfw", nil)
	req.Header.Set("X-Test-User", ownerID)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Your voice channel is now marked as NSFW", decode(t, w)["message"])
}

func TestVoice_MusicToggle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/voice/music", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Now only allowing bots to speak in the channel", decode(t, w)["message"])

	ch, err := f.plat.Channel(context.Background(), channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsMusicMode())

	w = f.do(http.MethodPost, "/api/voice/music", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Now allowing everyone to speak in the channel", decode(t, w)["message"])

	f.plat.Connect(guildID, guestID, channelID)
	w = f.do(http.MethodPost, "/api/voice/music", guestID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVoice_Invite(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/voice/invite", ownerID, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	url, _ := body["url"].(string)
	assert.True(t, strings.HasPrefix(url, "https://discord.gg/"), url)
	assert.Equal(t, url, body["message"])
	assert.Equal(t, []string{channelID}, f.plat.Invites)

	f.plat.Disconnect(guildID, ownerID)
	w = f.do(http.MethodPost, "/api/voice/invite", ownerID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoice_TransferAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	f.plat.Connect(guildID, guestID, channelID)
	f.channels.On("UpdateOwner", mock.Anything, channelID, ownerID, guestID).Return(nil).Once()

	w := f.do(http.MethodPost, "/api/voice/transfer", ownerID, map[string]string{"user_id": guestID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "You've transferred ownership to <@guest>", decode(t, w)["message"])

	f.channels.On("Delete", mock.Anything, channelID).Return(int64(1), nil).Once()
	// ledger mock 仍返回 owner 为所有者
	w = f.do(http.MethodDelete, "/api/voice", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.plat.HasChannel(channelID))
}

func TestAdmin_SetupConflictAndReset(t *testing.T) {
	f := newAPIFixture(t)
	f.lobbies.On("FindByGuildID", mock.Anything, guildID).Return(nil, repository.ErrLobbyNotFound).Once()
	f.lobbies.On("Upsert", mock.Anything, mock.AnythingOfType("*domain.LobbyConfig")).Return(nil).Once()

	w := f.do(http.MethodPost, "/api/admin/setup", ownerID, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	lobbyID := body["lobby_channel_id"].(string)
	assert.True(t, f.plat.HasChannel(lobbyID))

	f.lobbies.On("FindByGuildID", mock.Anything, guildID).
		Return(&domain.LobbyConfig{GuildID: guildID, LobbyChannelID: lobbyID}, nil).Once()
	w = f.do(http.MethodPost, "/api/admin/setup", ownerID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.lobbies.On("Delete", mock.Anything, guildID).
		Return(&domain.LobbyConfig{GuildID: guildID, LobbyChannelID: lobbyID}, nil).Once()
	w = f.do(http.MethodDelete, "/api/admin/setup", ownerID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.plat.HasChannel(lobbyID))
}

func TestAdmin_ResetNotSetup(t *testing.T) {
	f := newAPIFixture(t)
	f.lobbies.On("Delete", mock.Anything, guildID).Return(nil, repository.ErrLobbyNotFound).Once()

	w := f.do(http.MethodDelete, "/api/admin/setup", ownerID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, service.ErrNotSetup.Message, decode(t, w)["error"])
}

func TestAdmin_SweepEnqueuesGuildTask(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/admin/sweep", ownerID, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "task-1", decode(t, w)["task_id"])
	require.Len(t, f.enqueuer.tasks, 1)

	payload, err := tasks.ParseSweepPayload(f.enqueuer.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, guildID, payload.GuildID)

	f.enqueuer.err = asynq.ErrDuplicateTask
	w = f.do(http.MethodPost, "/api/admin/sweep", ownerID, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestAdmin_SweepSync(t *testing.T) {
	f := newAPIFixture(t)
	f.channels.On("ListByGuild", mock.Anything, guildID).Return([]domain.OwnedChannel{
		{ChannelID: "gone", GuildID: guildID, OwnerID: ownerID},
	}, nil).Once()
	f.channels.On("Delete", mock.Anything, "gone").Return(int64(1), nil).Once()

	w := f.do(http.MethodPost, "/api/admin/sweep?sync=true", ownerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result service.SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, service.SweepResult{Checked: 1, Removed: 1}, result)
}
