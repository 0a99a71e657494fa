package api

import (
	"context"
	"fmt"

	intsync "github.com/matheus3301/courier/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls courier.v1.Control on a daemon socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Invoke calls method with req and decodes the response into out when out
// is non-nil.
func (c *Client) Invoke(ctx context.Context, method string, req map[string]any, out any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if m, ok := out.(*map[string]any); ok {
		*m = resp.AsMap()
		return nil
	}
	return fromStruct(resp, out)
}

func (c *Client) Status(ctx context.Context) (*StatusView, error) {
	var v StatusView
	if err := c.Invoke(ctx, MethodGetStatus, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) SendText(ctx context.Context, chatID, text string) (*MessageView, error) {
	var v MessageView
	if err := c.Invoke(ctx, MethodSendText, map[string]any{"chat_id": chatID, "text": text}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Flush(ctx context.Context) (*intsync.FlushResult, error) {
	var v intsync.FlushResult
	if err := c.Invoke(ctx, MethodFlush, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

type messageList struct {
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

func (c *Client) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]MessageView, error) {
	var v messageList
	req := map[string]any{"chat_id": chatID, "limit": limit, "offset": offset}
	if err := c.Invoke(ctx, MethodListMessages, req, &v); err != nil {
		return nil, err
	}
	return v.Messages, nil
}

func (c *Client) ListQueued(ctx context.Context) ([]MessageView, error) {
	var v messageList
	if err := c.Invoke(ctx, MethodListQueued, nil, &v); err != nil {
		return nil, err
	}
	return v.Messages, nil
}

func (c *Client) Retry(ctx context.Context, id string) (*MessageView, error) {
	var v MessageView
	if err := c.Invoke(ctx, MethodRetry, map[string]any{"id": id}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) SetAppState(ctx context.Context, state string) (map[string]any, error) {
	var v map[string]any
	if err := c.Invoke(ctx, MethodSetAppState, map[string]any{"state": state}, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	return c.Invoke(ctx, MethodSetTyping, map[string]any{"chat_id": chatID, "typing": typing}, nil)
}

func (c *Client) OpenChat(ctx context.Context, peerID string) (*ChatView, error) {
	var v ChatView
	if err := c.Invoke(ctx, MethodOpenChat, map[string]any{"peer_id": peerID}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*ChatView, error) {
	list := make([]any, 0, len(members))
	for _, m := range members {
		list = append(list, m)
	}
	var v ChatView
	if err := c.Invoke(ctx, MethodCreateGroup, map[string]any{"name": name, "members": list}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.Invoke(ctx, MethodDeleteChat, map[string]any{"chat_id": chatID}, nil)
}

func (c *Client) LeaveChat(ctx context.Context, chatID string) error {
	return c.Invoke(ctx, MethodLeaveChat, map[string]any{"chat_id": chatID}, nil)
}

// RemoveMember removes userID from a group the caller administers.
func (c *Client) RemoveMember(ctx context.Context, chatID, userID string) error {
	return c.Invoke(ctx, MethodRemoveMember, map[string]any{"chat_id": chatID, "user_id": userID}, nil)
}

func (c *Client) ListChats(ctx context.Context) ([]ChatView, error) {
	var v struct {
		Chats []ChatView `json:"chats"`
	}
	if err := c.Invoke(ctx, MethodListChats, nil, &v); err != nil {
		return nil, err
	}
	return v.Chats, nil
}

// Search finds cached messages containing query. An empty chatID searches
// every chat.
func (c *Client) Search(ctx context.Context, query, chatID string, limit int) ([]MessageView, error) {
	var v messageList
	req := map[string]any{"query": query, "chat_id": chatID, "limit": limit}
	if err := c.Invoke(ctx, MethodSearch, req, &v); err != nil {
		return nil, err
	}
	return v.Messages, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*UserView, error) {
	var v UserView
	if err := c.Invoke(ctx, MethodGetUser, map[string]any{"id": id}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) PutUser(ctx context.Context, u UserView) (*UserView, error) {
	var v UserView
	req := map[string]any{"id": u.ID, "name": u.Name, "avatar_url": u.AvatarURL}
	if err := c.Invoke(ctx, MethodPutUser, req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ReactResult reports where a reaction went.
type ReactResult struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Remove    bool   `json:"remove"`
	Queued    bool   `json:"queued"`
}

func (c *Client) React(ctx context.Context, chatID, messageID, emoji string, remove bool) (*ReactResult, error) {
	var v ReactResult
	req := map[string]any{"chat_id": chatID, "message_id": messageID, "emoji": emoji, "remove": remove}
	if err := c.Invoke(ctx, MethodReact, req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
