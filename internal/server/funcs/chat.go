package funcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/wire"
)

// messageHistoryLimit caps how many messages a list query returns.
const messageHistoryLimit = 100

type ChannelView struct {
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

type MessageView struct {
	Seq    int64  `json:"seq"`
	Author string `json:"author"`
	Text   string `json:"text"`
	SentAt int64  `json:"sentAt"`
}

type RosterView struct {
	Channel string   `json:"channel"`
	Present []string `json:"present"`
}

// RegisterChat registers the chat functions on r.
func RegisterChat(r *Registry) error {
	regs := []struct {
		kind wire.FunctionKind
		fn   wire.FunctionRef
		h    Handler
	}{
		{wire.FunctionQuery, "channels:list", channelsList},
		{wire.FunctionQuery, "messages:list", messagesList},
		{wire.FunctionMutation, "channels:create", channelsCreate},
		{wire.FunctionMutation, "messages:send", messagesSend},
		{wire.FunctionAction, "presence:heartbeat", presenceHeartbeat},
	}
	for _, reg := range regs {
		if err := r.Register(reg.kind, reg.fn, reg.h); err != nil {
			return err
		}
	}
	return nil
}

func channelsList(ctx context.Context, env *Env, _ wire.Args) (any, error) {
	channels, err := env.Store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ChannelView, 0, len(channels))
	for _, c := range channels {
		author := c.CreatedBy
		if a, err := env.Store.GetAccountByID(ctx, c.CreatedBy); err == nil {
			author = a.Handle
		}
		views = append(views, ChannelView{Name: c.Name, CreatedBy: author})
	}
	return views, nil
}

type channelArgs struct {
	Channel string `json:"channel"`
}

func messagesList(ctx context.Context, env *Env, args wire.Args) (any, error) {
	var in channelArgs
	if err := wire.DecodeAny(args, &in); err != nil {
		return nil, fmt.Errorf("messages:list: %w", err)
	}
	if in.Channel == "" {
		return nil, errors.New("messages:list: channel is required")
	}

	channel, err := env.Store.GetChannelByName(ctx, in.Channel)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("channel %q not found", in.Channel)
	}
	if err != nil {
		return nil, err
	}

	messages, err := env.Store.ListMessages(ctx, channel.ID, messageHistoryLimit)
	if err != nil {
		return nil, err
	}

	handles := make(map[string]string)
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		handle, ok := handles[m.AuthorID]
		if !ok {
			handle = m.AuthorID
			if a, err := env.Store.GetAccountByID(ctx, m.AuthorID); err == nil {
				handle = a.Handle
			}
			handles[m.AuthorID] = handle
		}
		views = append(views, MessageView{
			Seq:    m.Seq,
			Author: handle,
			Text:   m.Text,
			SentAt: m.CreatedAt.UnixMilli(),
		})
	}
	return views, nil
}

type createChannelArgs struct {
	Name string `json:"name"`
}

func channelsCreate(ctx context.Context, env *Env, args wire.Args) (any, error) {
	var in createChannelArgs
	if err := wire.DecodeAny(args, &in); err != nil {
		return nil, fmt.Errorf("channels:create: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("channels:create: name is required")
	}

	// Idempotent: creating an existing channel returns it unchanged.
	if existing, err := env.Store.GetChannelByName(ctx, name); err == nil {
		return ChannelView{Name: existing.Name, CreatedBy: existing.CreatedBy}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	channel := store.Channel{
		ID:        env.NewID(),
		Name:      name,
		CreatedBy: env.Account.ID,
		CreatedAt: env.Now(),
	}
	if err := env.Store.CreateChannel(ctx, channel); err != nil {
		return nil, err
	}
	return ChannelView{Name: channel.Name, CreatedBy: env.Account.Handle}, nil
}

type sendMessageArgs struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func messagesSend(ctx context.Context, env *Env, args wire.Args) (any, error) {
	var in sendMessageArgs
	if err := wire.DecodeAny(args, &in); err != nil {
		return nil, fmt.Errorf("messages:send: %w", err)
	}
	if in.Channel == "" {
		return nil, errors.New("messages:send: channel is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, errors.New("messages:send: text is required")
	}

	channel, err := env.Store.GetChannelByName(ctx, in.Channel)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("channel %q not found", in.Channel)
	}
	if err != nil {
		return nil, err
	}

	msg, err := env.Store.AppendMessage(ctx, store.Message{
		ID:        env.NewID(),
		ChannelID: channel.ID,
		AuthorID:  env.Account.ID,
		Text:      in.Text,
		CreatedAt: env.Now(),
	})
	if err != nil {
		return nil, err
	}
	return MessageView{
		Seq:    msg.Seq,
		Author: env.Account.Handle,
		Text:   msg.Text,
		SentAt: msg.CreatedAt.UnixMilli(),
	}, nil
}

func presenceHeartbeat(ctx context.Context, env *Env, args wire.Args) (any, error) {
	var in channelArgs
	if err := wire.DecodeAny(args, &in); err != nil {
		return nil, fmt.Errorf("presence:heartbeat: %w", err)
	}
	if in.Channel == "" {
		return nil, errors.New("presence:heartbeat: channel is required")
	}
	return RosterView{
		Channel: in.Channel,
		Present: env.Presence.Heartbeat(in.Channel, env.Account.Handle),
	}, nil
}
