package api

import (
	"context"
	"errors"
	"slices"

	"github.com/matheus3301/courier/internal/conversation"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/netmon"
	"github.com/matheus3301/courier/internal/outbox"
	"github.com/matheus3301/courier/internal/presence"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
	intsync "github.com/matheus3301/courier/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Identity is the signed-in user the daemon acts for.
type Identity struct {
	Profile  string
	UserID   string
	UserName string
}

// Control implements ControlServer over the daemon's components.
type Control struct {
	id       Identity
	cache    store.Cache
	pipeline *outbox.Pipeline
	engine   *intsync.Engine
	tracker  *presence.Tracker
	conv     *conversation.Service
	net      *netmon.Monitor
	logger   *zap.Logger
}

var _ ControlServer = (*Control)(nil)

// NewControl creates the control service.
func NewControl(id Identity, cache store.Cache, p *outbox.Pipeline, e *intsync.Engine, t *presence.Tracker, conv *conversation.Service, net *netmon.Monitor, logger *zap.Logger) *Control {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Control{id: id, cache: cache, pipeline: p, engine: e, tracker: t, conv: conv, net: net, logger: logger}
}

// StatusView is the GetStatus response.
type StatusView struct {
	Profile   string             `json:"profile"`
	UserID    string             `json:"user_id"`
	Network   model.NetworkState `json:"network"`
	Online    bool               `json:"online"`
	SyncState string             `json:"sync_state"`
	Presence  presence.Snapshot  `json:"presence"`
	Queued    int                `json:"queued"`
	Failed    int                `json:"failed"`
}

func (c *Control) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	queued, err := c.cache.GetQueuedMessages(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read queue: %v", err)
	}
	view := StatusView{
		Profile:   c.id.Profile,
		UserID:    c.id.UserID,
		Network:   c.net.CurrentState(),
		Online:    c.net.IsOnline(),
		SyncState: string(c.engine.State()),
		Presence:  c.tracker.Snapshot(),
	}
	for _, m := range queued {
		if m.Status == model.StatusFailed {
			view.Failed++
		} else {
			view.Queued++
		}
	}
	return reply(view)
}

func (c *Control) SendText(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID, text := stringField(in, "chat_id"), stringField(in, "text")
	if chatID == "" || text == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and text are required")
	}
	if c.id.UserID == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "no user configured for this profile")
	}
	msg := c.pipeline.Send(chatID, c.id.UserID, model.Content{Text: text}, model.SenderMeta{Name: c.id.UserName})
	return reply(viewOf(msg))
}

func (c *Control) Flush(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(c.engine.Flush(ctx))
}

func (c *Control) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(in, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	limit, err := intField(in, "limit", 50)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	offset, err := intField(in, "offset", 0)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	msgs, err := c.cache.GetMessages(ctx, chatID, limit, offset)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return reply(map[string]any{"messages": viewsOf(msgs), "has_more": len(msgs) == limit})
}

func (c *Control) ListQueued(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	msgs, err := c.cache.GetQueuedMessages(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list queued: %v", err)
	}
	return reply(map[string]any{"messages": viewsOf(msgs)})
}

func (c *Control) Retry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	msg, err := c.pipeline.Retry(ctx, id)
	switch {
	case errors.Is(err, outbox.ErrMessageNotFound):
		return nil, grpcstatus.Errorf(codes.NotFound, "message %s not found", id)
	case errors.Is(err, outbox.ErrNotRetryable):
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, grpcstatus.Errorf(codes.Internal, "retry: %v", err)
	}
	return reply(viewOf(msg))
}

func (c *Control) SetAppState(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	state := presence.AppState(stringField(in, "state"))
	switch state {
	case presence.AppActive, presence.AppBackground, presence.AppInactive:
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "state must be active, background or inactive, got %q", state)
	}
	c.tracker.SetAppState(state)
	return reply(c.tracker.Snapshot())
}

func (c *Control) SetTyping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(in, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	typing := boolField(in, "typing")
	c.tracker.SetTypingStatus(ctx, chatID, c.id.UserID, c.id.UserName, typing)
	return reply(map[string]any{"chat_id": chatID, "typing": typing})
}

// React applies or removes an emoji reaction. Offline reactions are queued
// and reported with queued=true.
func (c *Control) React(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID, messageID, emoji := stringField(in, "chat_id"), stringField(in, "message_id"), stringField(in, "emoji")
	if chatID == "" || messageID == "" || emoji == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id, message_id and emoji are required")
	}
	r, err := c.pipeline.React(ctx, chatID, messageID, c.id.UserID, emoji, boolField(in, "remove"))
	if errors.Is(err, remote.ErrNotFound) {
		return nil, grpcstatus.Errorf(codes.NotFound, "message %s not found", messageID)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "react: %v", err)
	}
	pending, err := c.cache.PendingReactions(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "react: %v", err)
	}
	queued := slices.ContainsFunc(pending, func(p model.Reaction) bool { return p.ID == r.ID })
	return reply(map[string]any{"id": r.ID, "message_id": r.MessageID, "emoji": r.Emoji, "remove": r.Remove, "queued": queued})
}

func (c *Control) OpenChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chat, err := c.conv.EnsureDirect(ctx, c.id.UserID, stringField(in, "peer_id"))
	if err != nil {
		return nil, chatError(err)
	}
	return reply(chatViewOf(chat))
}

func (c *Control) CreateGroup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chat, err := c.conv.CreateGroup(ctx, c.id.UserID, stringField(in, "name"), stringsField(in, "members"))
	if err != nil {
		return nil, chatError(err)
	}
	return reply(chatViewOf(chat))
}

func (c *Control) DeleteChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(in, "chat_id")
	if err := c.conv.DeleteChat(ctx, chatID, c.id.UserID); err != nil {
		return nil, chatError(err)
	}
	return reply(map[string]any{"chat_id": chatID, "deleted": true})
}

func (c *Control) LeaveChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(in, "chat_id")
	if err := c.conv.LeaveChat(ctx, chatID, c.id.UserID); err != nil {
		return nil, chatError(err)
	}
	return reply(map[string]any{"chat_id": chatID, "left": true})
}

func (c *Control) RemoveMember(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID, memberID := stringField(in, "chat_id"), stringField(in, "user_id")
	if memberID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	if err := c.conv.RemoveMember(ctx, chatID, c.id.UserID, memberID); err != nil {
		return nil, chatError(err)
	}
	return reply(map[string]any{"chat_id": chatID, "user_id": memberID, "removed": true})
}

func (c *Control) ListChats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	chats, err := c.cache.GetChats(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	views := make([]ChatView, 0, len(chats))
	for i := range chats {
		views = append(views, chatViewOf(&chats[i]))
	}
	return reply(map[string]any{"chats": views})
}

func (c *Control) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	query := stringField(in, "query")
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit, err := intField(in, "limit", 20)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	msgs, err := c.cache.SearchMessages(ctx, query, stringField(in, "chat_id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search: %v", err)
	}
	return reply(map[string]any{"messages": viewsOf(msgs)})
}

func (c *Control) GetUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	u, err := c.cache.GetUser(ctx, id)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get user: %v", err)
	}
	if u == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "user %s not found", id)
	}
	return reply(UserView{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL})
}

func (c *Control) PutUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u := &model.User{ID: stringField(in, "id"), Name: stringField(in, "name"), AvatarURL: stringField(in, "avatar_url")}
	if u.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	if err := c.cache.SaveUser(ctx, u); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "save user: %v", err)
	}
	return reply(UserView{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL})
}

// chatError maps conversation failures to status codes.
func chatError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, conversation.ErrRequiresConnectivity), remote.IsTransient(err):
		code = codes.Unavailable
	case errors.Is(err, conversation.ErrNotParticipant), errors.Is(err, conversation.ErrNotAdmin):
		code = codes.PermissionDenied
	case errors.Is(err, conversation.ErrInvalidChat):
		code = codes.InvalidArgument
	case errors.Is(err, remote.ErrNotFound):
		code = codes.NotFound
	}
	return grpcstatus.Error(code, err.Error())
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
