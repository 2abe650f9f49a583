package discordhandler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/domain"
	"voicemaster/internal/service"
)

const (
	maxSelectOptions = 25
	maxUserLimit     = 99
	genericError     = "Something went wrong while handling that, please try again"
)

// Handler 把网关事件 (语音状态变化、面板交互) 转交给服务层
type Handler struct {
	lifecycle *service.LifecycleService
	ownership *service.OwnershipService
	control   *service.ControlService
	timeout   time.Duration // 单个事件的处理上限

	guildReady   func(ctx context.Context, guildID string)
	guildRemoved func(ctx context.Context, guildID string)
}

// NewHandler 创建 Handler 实例
func NewHandler(lifecycle *service.LifecycleService, ownership *service.OwnershipService, control *service.ControlService, timeout time.Duration) *Handler {
	if lifecycle == nil || ownership == nil || control == nil {
		panic("LifecycleService, OwnershipService and ControlService cannot be nil for discord Handler")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{lifecycle: lifecycle, ownership: ownership, control: control, timeout: timeout}
}

// Register 在会话上注册事件回调
func (h *Handler) Register(s *discordgo.Session) {
	s.AddHandler(h.onVoiceStateUpdate)
	s.AddHandler(h.onInteractionCreate)
	s.AddHandler(h.onGuildCreate)
	s.AddHandler(h.onGuildDelete)
}

// OnGuildReady 设置服务器状态同步完成 (GUILD_CREATE) 后的回调，
// 此时语音状态缓存已经完整，可以安全地对该服务器执行对账。
func (h *Handler) OnGuildReady(fn func(ctx context.Context, guildID string)) {
	h.guildReady = fn
}

func (h *Handler) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if h.guildReady == nil || e.Guild == nil || e.Unavailable {
		return
	}
	logCtx := logrus.WithField("guild_id", e.ID)
	defer recoverEvent(logCtx)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.guildReady(ctx, e.ID)
}

// OnGuildRemoved 设置机器人离开服务器 (被踢出或服务器被删除) 后的回调。
// 服务器只是暂时不可用 (Unavailable) 时不会触发。
func (h *Handler) OnGuildRemoved(fn func(ctx context.Context, guildID string)) {
	h.guildRemoved = fn
}

func (h *Handler) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if h.guildRemoved == nil || e.Guild == nil || e.Unavailable {
		return
	}
	logCtx := logrus.WithField("guild_id", e.ID)
	defer recoverEvent(logCtx)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.guildRemoved(ctx, e.ID)
}

// Transition 把网关的语音状态事件转换为领域对象
func Transition(e *discordgo.VoiceStateUpdate) domain.VoiceTransition {
	t := domain.VoiceTransition{}
	if e.VoiceState != nil {
		t.GuildID = e.GuildID
		t.UserID = e.UserID
		t.ToChannelID = e.ChannelID
		if e.Member != nil {
			t.DisplayName = e.Member.DisplayName()
			if e.Member.User != nil {
				t.Bot = e.Member.User.Bot
			}
		}
	}
	if e.BeforeUpdate != nil {
		t.FromChannelID = e.BeforeUpdate.ChannelID
	}
	return t
}

func (h *Handler) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	t := Transition(e)
	logCtx := logrus.WithFields(logrus.Fields{
		"guild_id": t.GuildID,
		"user_id":  t.UserID,
		"from":     t.FromChannelID,
		"to":       t.ToChannelID,
	})
	defer recoverEvent(logCtx)

	if t.GuildID == "" || t.UserID == "" || t.FromChannelID == t.ToChannelID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.lifecycle.HandleVoiceUpdate(ctx, t)
}

func (h *Handler) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"guild_id": i.GuildID, "interaction_id": i.ID})
	defer recoverEvent(logCtx)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	resp := h.Respond(ctx, i.Interaction)
	if resp == nil {
		return
	}
	if err := s.InteractionRespond(i.Interaction, resp, discordgo.WithContext(ctx)); err != nil {
		logCtx.WithError(err).Warn("Failed to respond to interaction")
	}
}

// Respond 计算交互的回复；不是面板交互时返回 nil。
func (h *Handler) Respond(ctx context.Context, i *discordgo.Interaction) *discordgo.InteractionResponse {
	actor, ok := actorOf(i)
	if !ok {
		return nil
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		if data.CustomID == SelectDisconnect {
			return h.reply(h.control.Disconnect(ctx, actor, data.Values))
		}
		return h.onButton(ctx, actor, data.CustomID)
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		return h.onModal(ctx, actor, data)
	}
	return nil
}

func (h *Handler) onButton(ctx context.Context, actor domain.Actor, customID string) *discordgo.InteractionResponse {
	switch customID {
	case ButtonLock:
		return h.reply(h.control.Lock(ctx, actor))
	case ButtonUnlock:
		return h.reply(h.control.Unlock(ctx, actor))
	case ButtonHide:
		return h.reply(h.control.Hide(ctx, actor))
	case ButtonReveal:
		return h.reply(h.control.Reveal(ctx, actor))
	case ButtonClaim:
		return h.reply(h.ownership.Claim(ctx, actor))
	case ButtonDelete:
		return h.reply(h.control.Delete(ctx, actor))
	case ButtonInfo, legacyButtonInfo:
		info, err := h.control.Info(ctx, actor)
		if err != nil {
			return errorResponse(err)
		}
		return infoResponse(info)
	case ButtonDisconnect:
		options, err := h.control.DisconnectOptions(ctx, actor)
		if err != nil {
			return errorResponse(err)
		}
		if len(options) == 0 {
			return messageResponse("There are no other members in your voice channel")
		}
		return disconnectMenu(options)
	case ButtonRename:
		if _, err := h.ownership.RequireOwner(ctx, actor); err != nil {
			return errorResponse(err)
		}
		return textModal(ModalRename, "Rename your voice channel", inputName, "Channel name", "Enter a new name", 100)
	case ButtonLimit, legacyButtonLimit:
		if _, err := h.ownership.RequireOwner(ctx, actor); err != nil {
			return errorResponse(err)
		}
		return textModal(ModalLimit, "Update the user limit", inputLimit, "User limit", "Enter a number between 0 and 99", 2)
	}
	return nil
}

func (h *Handler) onModal(ctx context.Context, actor domain.Actor, data discordgo.ModalSubmitInteractionData) *discordgo.InteractionResponse {
	switch data.CustomID {
	case ModalRename:
		return h.reply(h.control.Rename(ctx, actor, inputValue(data.Components, inputName)))
	case ModalLimit:
		limit, ok := ParseLimit(inputValue(data.Components, inputLimit))
		if !ok {
			return messageResponse("The user limit provided wasn't able to be set. Make sure the limit is a number")
		}
		return h.reply(h.control.SetLimit(ctx, actor, limit))
	}
	return nil
}

func (h *Handler) reply(r *service.Reply, err error) *discordgo.InteractionResponse {
	if err != nil {
		return errorResponse(err)
	}
	return replyResponse(r)
}

// ParseLimit 解析模态框中的人数上限，只接受数字，超出范围时截断到 0..99。
func ParseLimit(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// 数字过长
		return maxUserLimit, true
	}
	if n > maxUserLimit {
		n = maxUserLimit
	}
	return n, true
}

func errorResponse(err error) *discordgo.InteractionResponse {
	if ue, ok := service.AsUserError(err); ok {
		return messageResponse(ue.Message)
	}
	logrus.WithError(err).Error("Unhandled error while processing interaction")
	return messageResponse(genericError)
}

func disconnectMenu(options []domain.Occupant) *discordgo.InteractionResponse {
	if len(options) > maxSelectOptions {
		options = options[:maxSelectOptions]
	}
	menuOptions := make([]discordgo.SelectMenuOption, 0, len(options))
	for _, occ := range options {
		label := occ.DisplayName
		if label == "" {
			label = occ.UserID
		}
		menuOptions = append(menuOptions, discordgo.SelectMenuOption{
			Label:       label,
			Value:       occ.UserID,
			Description: fmt.Sprintf("ID: %s", occ.UserID),
		})
	}
	minValues := 1
	return ephemeral(&discordgo.InteractionResponseData{
		Content: "Select members to disconnect",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    SelectDisconnect,
					Placeholder: "Choose members...",
					MinValues:   &minValues,
					MaxValues:   len(menuOptions),
					Options:     menuOptions,
				},
			}},
		},
	})
}

// actorOf 提取交互发起者；私信中的交互没有服务器，直接忽略。
func actorOf(i *discordgo.Interaction) (domain.Actor, bool) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return domain.Actor{}, false
	}
	return domain.Actor{GuildID: i.GuildID, UserID: i.Member.User.ID}, true
}

// inputValue 在模态框组件中查找指定文本框的值
func inputValue(components []discordgo.MessageComponent, customID string) string {
	for _, c := range components {
		var children []discordgo.MessageComponent
		switch row := c.(type) {
		case *discordgo.ActionsRow:
			children = row.Components
		case discordgo.ActionsRow:
			children = row.Components
		}
		for _, child := range children {
			switch input := child.(type) {
			case *discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			case discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			}
		}
	}
	return ""
}

// recoverEvent 防止单个事件的 panic 终止网关事件循环
func recoverEvent(logCtx *logrus.Entry) {
	if r := recover(); r != nil {
		logCtx.WithField("panic", r).Errorf("Recovered from panic in event handler\n%s", debug.Stack())
	}
}
