package discordhandler

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"voicemaster/internal/service"
)

// 面板组件的固定 custom ID。重启后无需重新注册：处理器每次都通过 Ledger 解析频道。
const (
	customIDPrefix = "voicemaster:"

	ButtonLock       = customIDPrefix + "lock"
	ButtonUnlock     = customIDPrefix + "unlock"
	ButtonHide       = customIDPrefix + "hide"
	ButtonReveal     = customIDPrefix + "reveal"
	ButtonDisconnect = customIDPrefix + "disconnect"
	ButtonClaim      = customIDPrefix + "claim"
	ButtonRename     = customIDPrefix + "rename"
	ButtonLimit      = customIDPrefix + "limit"
	ButtonInfo       = customIDPrefix + "info"
	ButtonDelete     = customIDPrefix + "delete"

	// 旧版面板消息上的 custom ID，已发送的面板仍然使用它们
	legacyButtonLimit = customIDPrefix + "update_limit"
	legacyButtonInfo  = customIDPrefix + "information"

	ModalRename      = customIDPrefix + "modal:rename"
	ModalLimit       = customIDPrefix + "modal:limit"
	SelectDisconnect = customIDPrefix + "select:disconnect"

	inputName  = "name"
	inputLimit = "limit"
)

const (
	colorNeutral = 0xacacac
	colorApprove = 0xa4eb78
	colorWarn    = 0xfac55c
)

type panelButton struct {
	id, emoji, label string
}

var (
	memberButtons = []panelButton{
		{ButtonLock, "🔒", "Lock the channel"},
		{ButtonUnlock, "🔓", "Unlock the channel"},
		{ButtonHide, "👻", "Hide the channel"},
		{ButtonReveal, "👁️", "Reveal the channel"},
		{ButtonDisconnect, "🔨", "Disconnect members"},
	}
	miscButtons = []panelButton{
		{ButtonClaim, "👑", "Claim ownership"},
		{ButtonRename, "✏️", "Rename the channel"},
		{ButtonLimit, "👥", "Update the user limit"},
		{ButtonInfo, "ℹ️", "View information"},
		{ButtonDelete, "🗑️", "Delete the channel"},
	}
)

// PanelMessage 构造控制面板消息
func PanelMessage(lobbyChannelID string) *discordgo.MessageSend {
	describe := func(buttons []panelButton) string {
		lines := make([]string, 0, len(buttons))
		for _, b := range buttons {
			lines = append(lines, b.emoji+" "+b.label)
		}
		return strings.Join(lines, "\n")
	}
	row := func(buttons []panelButton) discordgo.ActionsRow {
		components := make([]discordgo.MessageComponent, 0, len(buttons))
		for _, b := range buttons {
			components = append(components, discordgo.Button{
				Style:    discordgo.SecondaryButton,
				CustomID: b.id,
				Emoji:    &discordgo.ComponentEmoji{Name: b.emoji},
			})
		}
		return discordgo.ActionsRow{Components: components}
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "VoiceMaster Panel",
			Description: fmt.Sprintf("Join <#%s> to create a voice channel", lobbyChannelID),
			Color:       colorNeutral,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Member Management", Value: describe(memberButtons), Inline: true},
				{Name: "Miscellaneous", Value: describe(miscButtons), Inline: true},
			},
		}},
		Components: []discordgo.MessageComponent{row(memberButtons), row(miscButtons)},
	}
}

// --- 回复构造 ---

func ephemeral(data *discordgo.InteractionResponseData) *discordgo.InteractionResponse {
	data.Flags |= discordgo.MessageFlagsEphemeral
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

func replyResponse(r *service.Reply) *discordgo.InteractionResponse {
	color := colorApprove
	if r.Warning {
		color = colorWarn
	}
	return ephemeral(&discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{{Description: r.Message, Color: color}},
	})
}

func messageResponse(msg string) *discordgo.InteractionResponse {
	return replyResponse(&service.Reply{Message: msg, Warning: true})
}

func infoResponse(info *service.ChannelInfo) *discordgo.InteractionResponse {
	check := func(b bool) string {
		if b {
			return "✅"
		}
		return "❌"
	}
	members := fmt.Sprintf("`%d`", info.Members)
	if info.UserLimit > 0 {
		members += fmt.Sprintf("/`%d`", info.UserLimit)
	}
	lines := []string{
		"**Locked:** " + check(info.Locked),
		"**Hidden:** " + check(info.Hidden),
		fmt.Sprintf("**Bitrate:** `%d kbps`", info.BitrateKbps),
		"**Members:** " + members,
	}
	if info.Region != "" {
		lines = append(lines, fmt.Sprintf("**Region:** `%s`", info.Region))
	}
	if info.Status != "" {
		lines = append(lines, "**Status:** "+info.Status)
	}

	embed := &discordgo.MessageEmbed{
		Title:       info.Name,
		Description: fmt.Sprintf("Created <t:%d:R>\n>>> %s", info.CreatedAt.Unix(), strings.Join(lines, "\n")),
		Color:       colorNeutral,
	}
	if len(info.PermittedRoles) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "**Roles Permitted**",
			Value: mentions(info.PermittedRoles, "<@&%s>"),
		})
	}
	if len(info.PermittedMembers) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "**Members Permitted**",
			Value: mentions(info.PermittedMembers, "<@%s>"),
		})
	}
	return ephemeral(&discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}})
}

func mentions(ids []string, format string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fmt.Sprintf(format, id))
	}
	return strings.Join(out, ", ")
}

func textModal(customID, title, inputID, label, placeholder string, maxLength int) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID,
			Title:    title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    inputID,
						Label:       label,
						Style:       discordgo.TextInputShort,
						Placeholder: placeholder,
						Required:    true,
						MaxLength:   maxLength,
					},
				}},
			},
		},
	}
}
