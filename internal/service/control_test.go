package service_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemaster/internal/domain"
	"voicemaster/internal/platform"
	"voicemaster/internal/service"
)

func TestControl_LockGrandfathersOccupants(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	reply, err := f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel has been locked", reply.Message)

	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsLocked())
	assert.Equal(t, domain.AccessAllow, ch.OverwriteFor(domain.MemberTarget("u2")).Connect)

	// 新成员无法加入，已在频道中的成员离开后可以重新加入
	f.plat.AddMember(guildID, "u3", "U3", false)
	assert.ErrorIs(t, f.plat.Join(guildID, "u3", channelID), platform.ErrForbidden)
	f.plat.Disconnect(guildID, "u2")
	assert.NoError(t, f.plat.Join(guildID, "u2", channelID))

	// 重复加锁是无操作的提醒
	reply, err = f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.True(t, reply.Warning)
	assert.Equal(t, "Your voice channel is already locked", reply.Message)

	reply, err = f.control.Unlock(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.False(t, reply.Warning)
	assert.True(t, f.plat.CanConnect(channelID, "u3"))

	reply, err = f.control.Unlock(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.True(t, reply.Warning)
}

func TestControl_LockToleratesGrantFailures(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)
	f.plat.SetPermissionErr = func(_ string, ow domain.Overwrite) error {
		if ow.Target == domain.MemberTarget("u2") {
			return platform.ErrForbidden
		}
		return nil
	}

	reply, err := f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.False(t, reply.Warning)
	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsLocked())
}

func TestControl_HideReveal(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	_, err := f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)
	reply, err := f.control.Hide(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel is now hidden", reply.Message)

	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsHidden())
	assert.True(t, ch.IsLocked(), "hiding keeps the connect bit")

	reply, err = f.control.Hide(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.True(t, reply.Warning)

	_, err = f.control.Reveal(f.ctx, actor("u1"))
	require.NoError(t, err)
	ch, err = f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.False(t, ch.IsHidden())
	assert.True(t, ch.IsLocked())

	reply, err = f.control.Reveal(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel is already visible", reply.Message)
}

func TestControl_RequiresOwner(t *testing.T) {
	f := newFixture(t)
	ownerWithGuest(t, f)

	ops := map[string]func() (*service.Reply, error){
		"lock":   func() (*service.Reply, error) { return f.control.Lock(f.ctx, actor("u2")) },
		"hide":   func() (*service.Reply, error) { return f.control.Hide(f.ctx, actor("u2")) },
		"limit":  func() (*service.Reply, error) { return f.control.SetLimit(f.ctx, actor("u2"), 3) },
		"rename": func() (*service.Reply, error) { return f.control.Rename(f.ctx, actor("u2"), "mine") },
		"delete": func() (*service.Reply, error) { return f.control.Delete(f.ctx, actor("u2")) },
		"music":  func() (*service.Reply, error) { return f.control.Music(f.ctx, actor("u2")) },
		"invite": func() (*service.Reply, error) { return f.control.Invite(f.ctx, actor("u2")) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			_, err := op()
			assert.True(t, errors.Is(err, service.ErrNotOwner))
		})
	}
}

func TestControl_PermitAndReject(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)
	_, err := f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)

	f.plat.AddMember(guildID, "u3", "U3", false)
	reply, err := f.control.Permit(f.ctx, actor("u1"), domain.MemberTarget("u3"))
	require.NoError(t, err)
	assert.Equal(t, "<@u3> can now join your voice channel", reply.Message)
	assert.NoError(t, f.plat.Join(guildID, "u3", channelID))

	reply, err = f.control.Reject(f.ctx, actor("u1"), domain.MemberTarget("u3"))
	require.NoError(t, err)
	assert.Equal(t, "<@u3> is no longer permitted to join your voice channel", reply.Message)
	assert.Equal(t, "", f.plat.VoiceChannelOf(guildID, "u3"), "present member is disconnected")
	assert.False(t, f.plat.CanConnect(channelID, "u3"))

	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	ow := ch.OverwriteFor(domain.MemberTarget("u3"))
	assert.Equal(t, domain.AccessDeny, ow.Connect)
	assert.Equal(t, domain.AccessAllow, ow.View)

	reply, err = f.control.Permit(f.ctx, actor("u1"), domain.RoleTarget("mods"))
	require.NoError(t, err)
	assert.Equal(t, "<@&mods> can now join your voice channel", reply.Message)

	_, err = f.control.Permit(f.ctx, actor("u1"), domain.PermissionTarget{Kind: "channel", ID: "x"})
	assert.True(t, errors.Is(err, service.ErrInvalidTarget))

	reply, err = f.control.Reject(f.ctx, actor("u1"), domain.MemberTarget("u1"))
	require.NoError(t, err)
	assert.True(t, reply.Warning)
}

func TestControl_MusicToggle(t *testing.T) {
	f := newFixture(t)
	f.plat.BotID = "vm-bot"
	channelID := ownerWithGuest(t, f)
	f.plat.AddMember(guildID, "jukebox", "Jukebox", true)
	f.plat.Connect(guildID, "jukebox", channelID)
	_, err := f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)

	reply, err := f.control.Music(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Now only allowing bots to speak in the channel", reply.Message)

	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ch.IsMusicMode())
	assert.True(t, ch.IsLocked(), "other bits on @everyone are kept")
	assert.Equal(t, domain.AccessAllow, ch.OverwriteFor(domain.MemberTarget("jukebox")).Speak)
	assert.Equal(t, domain.AccessAllow, ch.OverwriteFor(domain.MemberTarget("vm-bot")).Speak)
	assert.Equal(t, domain.AccessUnset, ch.OverwriteFor(domain.MemberTarget("u2")).Speak, "humans are not exempt")

	// 30 秒冷却
	_, err = f.control.Music(f.ctx, actor("u1"))
	ue, ok := service.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, service.KindRateLimited, ue.Kind)

	f.mr.FastForward(31 * time.Second)
	reply, err = f.control.Music(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Now allowing everyone to speak in the channel", reply.Message)

	ch, err = f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.False(t, ch.IsMusicMode())
	assert.True(t, ch.IsLocked())
	assert.Equal(t, domain.AccessAllow, ch.OverwriteFor(domain.MemberTarget("jukebox")).Speak)
}

func TestControl_PermitKeepsSpeakGrant(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)
	f.plat.AddMember(guildID, "jukebox", "Jukebox", true)
	f.plat.Connect(guildID, "jukebox", channelID)
	_, err := f.control.Music(f.ctx, actor("u1"))
	require.NoError(t, err)

	_, err = f.control.Permit(f.ctx, actor("u1"), domain.MemberTarget("jukebox"))
	require.NoError(t, err)

	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	ow := ch.OverwriteFor(domain.MemberTarget("jukebox"))
	assert.Equal(t, domain.AccessAllow, ow.Connect)
	assert.Equal(t, domain.AccessAllow, ow.Speak)
}

func TestControl_Invite(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	reply, err := f.control.Invite(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Message, "https://discord.gg/"))
	assert.Equal(t, []string{channelID}, f.plat.Invites)

	// 20 秒冷却
	_, err = f.control.Invite(f.ctx, actor("u1"))
	ue, ok := service.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, service.KindRateLimited, ue.Kind)
	assert.Len(t, f.plat.Invites, 1)

	f.mr.FastForward(21 * time.Second)
	f.plat.InviteErr = platform.ErrForbidden
	_, err = f.control.Invite(f.ctx, actor("u1"))
	ue, ok = service.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, service.KindForbidden, ue.Kind)
}

func TestControl_Rename(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	_, err := f.control.Rename(f.ctx, actor("u1"), "   ")
	ue, ok := service.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, service.KindInvalid, ue.Kind)

	_, err = f.control.Rename(f.ctx, actor("u1"), strings.Repeat("a", 101))
	require.Error(t, err)

	reply, err := f.control.Rename(f.ctx, actor("u1"), "late night")
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel has been renamed", reply.Message)
	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, "late night", ch.Name)

	// 15 秒冷却
	_, err = f.control.Rename(f.ctx, actor("u1"), "again")
	ue, ok = service.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, service.KindRateLimited, ue.Kind)

	f.mr.FastForward(16 * time.Second)
	f.plat.EditErr = &platform.RateLimitError{RetryAfter: 4 * time.Minute}
	reply, err = f.control.Rename(f.ctx, actor("u1"), "again")
	require.NoError(t, err)
	assert.True(t, reply.Warning)
	assert.Contains(t, reply.Message, "rate limit")
	assert.Contains(t, reply.Message, "4m0s")

	f.mr.FastForward(16 * time.Second)
	f.plat.EditErr = platform.ErrRejected
	reply, err = f.control.Rename(f.ctx, actor("u1"), "bad words")
	require.NoError(t, err)
	assert.True(t, reply.Warning)
	assert.Contains(t, reply.Message, "vulgar")
}

func TestControl_SetLimit(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	for _, bad := range []int{-1, 100} {
		_, err := f.control.SetLimit(f.ctx, actor("u1"), bad)
		require.Error(t, err)
	}

	reply, err := f.control.SetLimit(f.ctx, actor("u1"), 5)
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel now has a limit of `5` users", reply.Message)

	reply, err = f.control.SetLimit(f.ctx, actor("u1"), 1)
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel now has a limit of `1` user", reply.Message)

	reply, err = f.control.SetLimit(f.ctx, actor("u1"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Removed the user limit from your voice channel", reply.Message)
	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, 0, ch.UserLimit)
}

func TestControl_StatusNSFWRegion(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	_, err := f.control.SetStatus(f.ctx, actor("u1"), strings.Repeat("x", 501))
	require.Error(t, err)
	reply, err := f.control.SetStatus(f.ctx, actor("u1"), "playing chess")
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel status has been updated", reply.Message)
	reply, err = f.control.SetStatus(f.ctx, actor("u1"), "")
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel status has been removed", reply.Message)

	reply, err = f.control.SetNSFW(f.ctx, actor("u1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel is now marked as NSFW", reply.Message)
	reply, err = f.control.SetNSFW(f.ctx, actor("u1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel is no longer marked as NSFW", reply.Message)

	_, err = f.control.SetRegion(f.ctx, actor("u1"), "moon")
	require.Error(t, err)
	reply, err = f.control.SetRegion(f.ctx, actor("u1"), "japan")
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel region has been set to `Japan`", reply.Message)

	ch, err := f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, "japan", ch.Region)
	assert.False(t, ch.NSFW)
	assert.Empty(t, ch.Status)

	_, err = f.control.SetRegion(f.ctx, actor("u1"), "automatic")
	require.NoError(t, err)
	ch, err = f.plat.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Empty(t, ch.Region)
}

func TestControl_Disconnect(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)
	f.plat.AddMember(guildID, "u3", "U3", false)
	f.plat.Connect(guildID, "u3", channelID)

	options, err := f.control.DisconnectOptions(f.ctx, actor("u1"))
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "u2", options[0].UserID)
	assert.Equal(t, "u3", options[1].UserID)

	reply, err := f.control.Disconnect(f.ctx, actor("u1"), []string{"u1", "u2", "u3", "gone"})
	require.NoError(t, err)
	assert.Equal(t, "Disconnected `2` members, `1` failed", reply.Message)
	assert.Equal(t, channelID, f.plat.VoiceChannelOf(guildID, "u1"), "actor is never disconnected")
	assert.Equal(t, "", f.plat.VoiceChannelOf(guildID, "u2"))
	assert.Equal(t, "", f.plat.VoiceChannelOf(guildID, "u3"))
}

func TestControl_Info(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)
	_, err := f.control.Lock(f.ctx, actor("u1"))
	require.NoError(t, err)
	_, err = f.control.Permit(f.ctx, actor("u1"), domain.RoleTarget("mods"))
	require.NoError(t, err)
	_, err = f.control.SetLimit(f.ctx, actor("u1"), 4)
	require.NoError(t, err)

	// 非所有者也可以查看
	info, err := f.control.Info(f.ctx, actor("u2"))
	require.NoError(t, err)
	assert.Equal(t, channelID, info.ChannelID)
	assert.Equal(t, "u1", info.OwnerID)
	assert.True(t, info.Locked)
	assert.False(t, info.Hidden)
	assert.Equal(t, 96, info.BitrateKbps)
	assert.Equal(t, 2, info.Members)
	assert.Equal(t, 4, info.UserLimit)
	assert.Equal(t, []string{"mods"}, info.PermittedRoles)
	assert.ElementsMatch(t, []string{"u1", "u2"}, info.PermittedMembers)

	f.plat.AddMember(guildID, "u3", "U3", false)
	f.plat.Connect(guildID, "u3", afkID)
	_, err = f.control.Info(f.ctx, actor("u3"))
	assert.True(t, errors.Is(err, service.ErrNotManaged))
}

func TestControl_Delete(t *testing.T) {
	f := newFixture(t)
	channelID := ownerWithGuest(t, f)

	reply, err := f.control.Delete(f.ctx, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, "Your voice channel has been deleted", reply.Message)
	assert.False(t, f.plat.HasChannel(channelID))
	assert.Equal(t, 0, f.ledger.Len())
}

func TestControl_DeleteFailureKeepsLedgerRow(t *testing.T) {
	f := newFixture(t)
	ownerWithGuest(t, f)
	f.plat.DeleteErr = platform.ErrForbidden

	_, err := f.control.Delete(f.ctx, actor("u1"))
	ue, ok := service.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, service.KindForbidden, ue.Kind)
	assert.Equal(t, 1, f.ledger.Len())
}
