package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookObjectType is the only top-level object accepted on the webhook.
const WebhookObjectType = "whatsapp_business_account"

type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string              `json:"messaging_product"`
	Metadata         WebhookMetadata     `json:"metadata"`
	Contacts         []WebhookContact    `json:"contacts,omitempty"`
	Messages         []RawInboundMessage `json:"messages,omitempty"`
	Statuses         []RawStatus         `json:"statuses,omitempty"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// RawInboundMessage is the wire shape of a message event. Only the field
// matching Type is populated by the provider.
type RawInboundMessage struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	Timestamp   string          `json:"timestamp"`
	Type        string          `json:"type"`
	Text        *RawText        `json:"text,omitempty"`
	Button      *RawButton      `json:"button,omitempty"`
	Interactive *RawInteractive `json:"interactive,omitempty"`
	Image       *RawMedia       `json:"image,omitempty"`
	Document    *RawMedia       `json:"document,omitempty"`
	Audio       *RawMedia       `json:"audio,omitempty"`
	Video       *RawMedia       `json:"video,omitempty"`
	Sticker     *RawMedia       `json:"sticker,omitempty"`
	Location    *RawLocation    `json:"location,omitempty"`
	Reaction    *RawReaction    `json:"reaction,omitempty"`
	Context     *struct {
		ID string `json:"id"`
	} `json:"context,omitempty"`
}

type RawText struct {
	Body string `json:"body"`
}

type RawButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type RawInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply,omitempty"`
}

type RawMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type RawLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type RawReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type RawStatus struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	RecipientID string          `json:"recipient_id"`
	Errors      json.RawMessage `json:"errors,omitempty"`
}

type InboundKind string

const (
	InboundKindText        InboundKind = "text"
	InboundKindButton      InboundKind = "button"
	InboundKindInteractive InboundKind = "interactive"
	InboundKindMedia       InboundKind = "media"
	InboundKindLocation    InboundKind = "location"
	InboundKindReaction    InboundKind = "reaction"
	InboundKindUnsupported InboundKind = "unsupported"
)

// InboundContent is the variant part of an inbound message. Each kind carries
// only its own fields.
type InboundContent interface {
	Kind() InboundKind
	// Body is the human readable line stored on the message row.
	Body() string
	Metadata() map[string]any
}

type TextContent struct {
	Text string
}

func (TextContent) Kind() InboundKind          { return InboundKindText }
func (c TextContent) Body() string             { return c.Text }
func (c TextContent) Metadata() map[string]any { return nil }

// ButtonContent is a quick reply on a template button.
type ButtonContent struct {
	Payload string
	Text    string
}

func (ButtonContent) Kind() InboundKind { return InboundKindButton }
func (c ButtonContent) Body() string    { return c.Text }
func (c ButtonContent) Metadata() map[string]any {
	return map[string]any{"payload": c.Payload}
}

type InteractiveContent struct {
	ReplyType   string
	ReplyID     string
	Title       string
	Description string
}

func (InteractiveContent) Kind() InboundKind { return InboundKindInteractive }
func (c InteractiveContent) Body() string    { return c.Title }
func (c InteractiveContent) Metadata() map[string]any {
	m := map[string]any{"reply_type": c.ReplyType, "reply_id": c.ReplyID}
	if c.Description != "" {
		m["description"] = c.Description
	}
	return m
}

type MediaContent struct {
	MediaType string
	MediaID   string
	MimeType  string
	SHA256    string
	Caption   string
	Filename  string
}

func (MediaContent) Kind() InboundKind { return InboundKindMedia }
func (c MediaContent) Body() string {
	if c.Caption != "" {
		return c.Caption
	}
	return "[" + c.MediaType + "]"
}
func (c MediaContent) Metadata() map[string]any {
	m := map[string]any{"media_type": c.MediaType, "media_id": c.MediaID, "mime_type": c.MimeType}
	if c.SHA256 != "" {
		m["sha256"] = c.SHA256
	}
	if c.Filename != "" {
		m["filename"] = c.Filename
	}
	return m
}

type LocationContent struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

func (LocationContent) Kind() InboundKind { return InboundKindLocation }
func (c LocationContent) Body() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}
func (c LocationContent) Metadata() map[string]any {
	return map[string]any{
		"latitude":  c.Latitude,
		"longitude": c.Longitude,
		"name":      c.Name,
		"address":   c.Address,
	}
}

type ReactionContent struct {
	MessageID string
	Emoji     string
}

func (ReactionContent) Kind() InboundKind { return InboundKindReaction }
func (c ReactionContent) Body() string    { return c.Emoji }
func (c ReactionContent) Metadata() map[string]any {
	return map[string]any{"reacted_to": c.MessageID}
}

// UnsupportedContent keeps the provider type name of anything not modelled above.
type UnsupportedContent struct {
	Type string
}

func (UnsupportedContent) Kind() InboundKind { return InboundKindUnsupported }
func (c UnsupportedContent) Body() string    { return "[" + c.Type + "]" }
func (c UnsupportedContent) Metadata() map[string]any {
	return map[string]any{"original_type": c.Type}
}

type InboundMessage struct {
	ProviderMessageID string
	From              string
	ContactName       string
	ContextID         string
	Timestamp         time.Time
	Content           InboundContent
}

// StatusEvent is a decoded delivery callback.
type StatusEvent struct {
	ProviderMessageID string
	Status            MessageStatus
	Recipient         string
	Timestamp         *time.Time
	Errors            json.RawMessage
}

// Events splits the payload into message and status events.
func (p *WebhookPayload) Events() ([]InboundMessage, []StatusEvent) {
	var msgs []InboundMessage
	var statuses []StatusEvent
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, raw := range change.Value.Messages {
				m := raw.Decode()
				m.ContactName = names[raw.From]
				msgs = append(msgs, m)
			}
			for _, raw := range change.Value.Statuses {
				statuses = append(statuses, raw.Decode())
			}
		}
	}
	return msgs, statuses
}

func (r RawInboundMessage) Decode() InboundMessage {
	m := InboundMessage{
		ProviderMessageID: r.ID,
		From:              r.From,
		Content:           r.content(),
	}
	if ts := parseUnix(r.Timestamp); ts != nil {
		m.Timestamp = *ts
	}
	if r.Context != nil {
		m.ContextID = r.Context.ID
	}
	return m
}

func (r RawInboundMessage) content() InboundContent {
	switch r.Type {
	case "text":
		if r.Text != nil {
			return TextContent{Text: r.Text.Body}
		}
	case "button":
		if r.Button != nil {
			return ButtonContent{Payload: r.Button.Payload, Text: r.Button.Text}
		}
	case "interactive":
		if r.Interactive == nil {
			break
		}
		switch {
		case r.Interactive.ButtonReply != nil:
			return InteractiveContent{
				ReplyType: r.Interactive.Type,
				ReplyID:   r.Interactive.ButtonReply.ID,
				Title:     r.Interactive.ButtonReply.Title,
			}
		case r.Interactive.ListReply != nil:
			return InteractiveContent{
				ReplyType:   r.Interactive.Type,
				ReplyID:     r.Interactive.ListReply.ID,
				Title:       r.Interactive.ListReply.Title,
				Description: r.Interactive.ListReply.Description,
			}
		}
	case "image", "document", "audio", "video", "sticker":
		if media := r.media(); media != nil {
			return MediaContent{
				MediaType: r.Type,
				MediaID:   media.ID,
				MimeType:  media.MimeType,
				SHA256:    media.SHA256,
				Caption:   media.Caption,
				Filename:  media.Filename,
			}
		}
	case "location":
		if r.Location != nil {
			return LocationContent{
				Latitude:  r.Location.Latitude,
				Longitude: r.Location.Longitude,
				Name:      r.Location.Name,
				Address:   r.Location.Address,
			}
		}
	case "reaction":
		if r.Reaction != nil {
			return ReactionContent{MessageID: r.Reaction.MessageID, Emoji: r.Reaction.Emoji}
		}
	}
	t := r.Type
	if t == "" {
		t = "unknown"
	}
	return UnsupportedContent{Type: t}
}

func (r RawInboundMessage) media() *RawMedia {
	switch r.Type {
	case "image":
		return r.Image
	case "document":
		return r.Document
	case "audio":
		return r.Audio
	case "video":
		return r.Video
	case "sticker":
		return r.Sticker
	}
	return nil
}

func (r RawStatus) Decode() StatusEvent {
	ev := StatusEvent{
		ProviderMessageID: r.ID,
		Status:            MessageStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		Recipient:         r.RecipientID,
		Timestamp:         parseUnix(r.Timestamp),
	}
	if len(r.Errors) > 0 && string(r.Errors) != "null" {
		ev.Errors = r.Errors
	}
	return ev
}

func parseUnix(s string) *time.Time {
	if s == "" {
		return nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
