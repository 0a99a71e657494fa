package api

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/matheus3301/courier/internal/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageView is the wire shape of a message.
type MessageView struct {
	ID            string `json:"id"`
	ChatID        string `json:"chat_id"`
	SenderID      string `json:"sender_id"`
	SenderName    string `json:"sender_name,omitempty"`
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	AudioDuration int    `json:"audio_duration,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Status        string `json:"status"`
	IsOptimistic  bool   `json:"is_optimistic"`
	OptimisticID  string `json:"optimistic_id,omitempty"`
	RetryCount    int    `json:"retry_count"`
}

func viewOf(m *model.Message) MessageView {
	return MessageView{
		ID:            m.ID,
		ChatID:        m.ChatID,
		SenderID:      m.SenderID,
		SenderName:    m.SenderName,
		Type:          string(m.Content.Type()),
		Text:          m.Content.Text,
		ImageURL:      m.Content.ImageURL,
		AudioURL:      m.Content.AudioURL,
		AudioDuration: m.Content.AudioDuration,
		Timestamp:     m.Timestamp,
		Status:        string(m.Status),
		IsOptimistic:  m.IsOptimistic,
		OptimisticID:  m.OptimisticID,
		RetryCount:    m.RetryCount,
	}
}

func viewsOf(msgs []model.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, viewOf(&msgs[i]))
	}
	return out
}

// ChatView is the wire shape of a chat.
type ChatView struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	AdminIDs     []string `json:"admin_ids,omitempty"`
	LastMessage  string   `json:"last_message,omitempty"`
	UpdatedAt    int64    `json:"updated_at"`
}

func chatViewOf(c *model.Chat) ChatView {
	v := ChatView{
		ID:           c.ID,
		Type:         string(c.Type),
		Name:         c.Name,
		Participants: c.Participants,
		AdminIDs:     c.AdminIDs,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		v.LastMessage = c.LastMessage.Text
	}
	return v
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// UserView is the wire shape of a cached user.
type UserView struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func stringsField(in *structpb.Struct, key string) []string {
	var out []string
	for _, v := range in.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolField(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

// intField reads a non-negative whole number. Absent fields yield def.
func intField(in *structpb.Struct, key string, def int) (int, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return def, nil
	}
	n := v.GetNumberValue()
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return int(n), nil
}
