package discordhandler_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	discordhandler "voicemaster/internal/handler/discord"
	"voicemaster/internal/domain"
	"voicemaster/internal/platform/platformtest"
	"voicemaster/internal/repository"
	"voicemaster/internal/repository/mocks"
	"voicemaster/internal/service"
)

const (
	guildID   = "g1"
	channelID = "vc1"
	ownerID   = "owner"
	guestID   = "guest"
)

type handlerFixture struct {
	plat    *platformtest.Fake
	handler *discordhandler.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	plat := platformtest.New()
	plat.AddGuild(guildID, 96000)
	plat.AddChannel(guildID, channelID, "Owner's channel", "")
	plat.AddMember(guildID, ownerID, "Owner", false)
	plat.AddMember(guildID, guestID, "Guest", false)
	plat.Connect(guildID, ownerID, channelID)

	channels := mocks.NewChannelRepository(t)
	channels.On("FindByChannelID", mock.Anything, channelID).
		Return(func(context.Context, string) *domain.OwnedChannel {
			return &domain.OwnedChannel{ChannelID: channelID, GuildID: guildID, OwnerID: ownerID}
		}, nil).Maybe()
	channels.On("FindByChannelID", mock.Anything, mock.Anything).
		Return(nil, repository.ErrChannelNotFound).Maybe()
	channels.On("Delete", mock.Anything, channelID).Return(int64(1), nil).Maybe()
	counters := mocks.NewCounterRepository(t)
	counters.On("IncrWithExpiry", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil).Maybe()
	lobbies := mocks.NewLobbyRepository(t)

	policy := service.DefaultPolicy()
	policy.PlatformTimeout = 2 * time.Second
	ownership := service.NewOwnershipService(channels, nil, plat, policy)
	control := service.NewControlService(ownership, channels, counters, nil, plat, policy)
	lifecycle := service.NewLifecycleService(lobbies, channels, counters, nil, plat, policy)

	return &handlerFixture{
		plat:    plat,
		handler: discordhandler.NewHandler(lifecycle, ownership, control, 5*time.Second),
	}
}

func buttonPress(userID, customID string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:    discordgo.InteractionMessageComponent,
		GuildID: guildID,
		Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data:    discordgo.MessageComponentInteractionData{CustomID: customID},
	}
}

func modalSubmit(userID, customID, inputID, value string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:    discordgo.InteractionModalSubmit,
		GuildID: guildID,
		Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: customID,
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: inputID, Value: value},
				}},
			},
		},
	}
}

func embedText(t *testing.T, resp *discordgo.InteractionResponse) string {
	t.Helper()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Data)
	require.NotEmpty(t, resp.Data.Embeds)
	return resp.Data.Embeds[0].Description
}

func TestRespond_LockByOwner(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), buttonPress(ownerID, discordhandler.ButtonLock))

	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags&discordgo.MessageFlagsEphemeral)
	assert.Equal(t, "Your voice channel has been locked", embedText(t, resp))

	ch, err := f.plat.Channel(context.Background(), channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsLocked())
}

func TestRespond_NonOwnerGetsUserError(t *testing.T) {
	f := newHandlerFixture(t)
	f.plat.Connect(guildID, guestID, channelID)

	resp := f.handler.Respond(context.Background(), buttonPress(guestID, discordhandler.ButtonHide))

	assert.Equal(t, service.ErrNotOwner.Message, embedText(t, resp))
}

func TestRespond_NotConnected(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), buttonPress(guestID, discordhandler.ButtonInfo))

	assert.Equal(t, service.ErrNotConnected.Message, embedText(t, resp))
}

func TestRespond_IgnoresDirectMessages(t *testing.T) {
	f := newHandlerFixture(t)
	i := buttonPress(ownerID, discordhandler.ButtonLock)
	i.GuildID = ""
	i.Member = nil
	i.User = &discordgo.User{ID: ownerID}

	assert.Nil(t, f.handler.Respond(context.Background(), i))
}

func TestRespond_UnknownCustomID(t *testing.T) {
	f := newHandlerFixture(t)
	assert.Nil(t, f.handler.Respond(context.Background(), buttonPress(ownerID, "other:button")))
}

func TestRespond_RenameOpensModalForOwnerOnly(t *testing.T) {
	f := newHandlerFixture(t)
	f.plat.Connect(guildID, guestID, channelID)

	resp := f.handler.Respond(context.Background(), buttonPress(ownerID, discordhandler.ButtonRename))
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, discordhandler.ModalRename, resp.Data.CustomID)

	resp = f.handler.Respond(context.Background(), buttonPress(guestID, discordhandler.ButtonRename))
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, service.ErrNotOwner.Message, embedText(t, resp))
}

func TestRespond_LimitModal(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), modalSubmit(ownerID, discordhandler.ModalLimit, "limit", "abc"))
	assert.Contains(t, embedText(t, resp), "Make sure the limit is a number")

	resp = f.handler.Respond(context.Background(), modalSubmit(ownerID, discordhandler.ModalLimit, "limit", "150"))
	assert.Equal(t, "Your voice channel now has a limit of `99` users", embedText(t, resp))

	ch, err := f.plat.Channel(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, 99, ch.UserLimit)
}

func TestRespond_RenameModal(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), modalSubmit(ownerID, discordhandler.ModalRename, "name", "Study room"))
	require.NotNil(t, resp)

	ch, err := f.plat.Channel(context.Background(), channelID)
	require.NoError(t, err)
	assert.Equal(t, "Study room", ch.Name)
}

func TestRespond_DisconnectFlow(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), buttonPress(ownerID, discordhandler.ButtonDisconnect))
	assert.Equal(t, "There are no other members in your voice channel", embedText(t, resp))

	f.plat.Connect(guildID, guestID, channelID)
	resp = f.handler.Respond(context.Background(), buttonPress(ownerID, discordhandler.ButtonDisconnect))
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Components, 1)
	row := resp.Data.Components[0].(discordgo.ActionsRow)
	menu := row.Components[0].(discordgo.SelectMenu)
	assert.Equal(t, discordhandler.SelectDisconnect, menu.CustomID)
	require.Len(t, menu.Options, 1)
	assert.Equal(t, guestID, menu.Options[0].Value)

	i := buttonPress(ownerID, discordhandler.SelectDisconnect)
	i.Data = discordgo.MessageComponentInteractionData{CustomID: discordhandler.SelectDisconnect, Values: []string{guestID}}
	resp = f.handler.Respond(context.Background(), i)
	assert.Equal(t, "Disconnected `1` member", embedText(t, resp))
	assert.Equal(t, "", f.plat.VoiceChannelOf(guildID, guestID))
}

func TestRespond_Info(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), buttonPress(ownerID, discordhandler.ButtonInfo))
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)
	embed := resp.Data.Embeds[0]
	assert.Equal(t, "Owner's channel", embed.Title)
	assert.Contains(t, embed.Description, "**Locked:** ❌")
	assert.Contains(t, embed.Description, "**Members:** `1`")
}

func TestRespond_LegacyPanelIDs(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.handler.Respond(context.Background(), buttonPress(ownerID, "voicemaster:information"))
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Equal(t, "Owner's channel", resp.Data.Embeds[0].Title)

	resp = f.handler.Respond(context.Background(), buttonPress(ownerID, "voicemaster:update_limit"))
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, discordhandler.ModalLimit, resp.Data.CustomID)
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{" 12 ", 12, true},
		{"150", 99, true},
		{"99999999999999999999999", 99, true},
		{"-1", 0, false},
		{"1.5", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := discordhandler.ParseLimit(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestTransition(t *testing.T) {
	e := &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			GuildID:   guildID,
			UserID:    ownerID,
			ChannelID: "to",
			Member:    &discordgo.Member{Nick: "Nick", User: &discordgo.User{ID: ownerID, Username: "owner", Bot: true}},
		},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "from"},
	}

	tr := discordhandler.Transition(e)
	assert.Equal(t, domain.VoiceTransition{
		GuildID: guildID, UserID: ownerID, DisplayName: "Nick", Bot: true,
		FromChannelID: "from", ToChannelID: "to",
	}, tr)

	e.BeforeUpdate = nil
	assert.Equal(t, "", discordhandler.Transition(e).FromChannelID)
}

func TestPanelMessage(t *testing.T) {
	msg := discordhandler.PanelMessage("lobby")

	require.Len(t, msg.Embeds, 1)
	assert.Contains(t, msg.Embeds[0].Description, "<#lobby>")
	require.Len(t, msg.Components, 2)

	var ids []string
	for _, c := range msg.Components {
		row := c.(discordgo.ActionsRow)
		assert.Len(t, row.Components, 5)
		for _, b := range row.Components {
			ids = append(ids, b.(discordgo.Button).CustomID)
		}
	}
	assert.Contains(t, ids, discordhandler.ButtonClaim)
	assert.Contains(t, ids, discordhandler.ButtonDelete)
}
