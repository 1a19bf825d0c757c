package supportsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/gigvora/support_backend/utils"
	"github.com/go-playground/validator/v10"
	"golang.org/x/net/html"
)

var (
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

var conversationEvents = map[string]bool{
	"conversation_created":        true,
	"conversation_updated":        true,
	"conversation_status_changed": true,
	"conversation_opened":         true,
	"conversation_resolved":       true,
}

var messageEvents = map[string]bool{
	"message_created": true,
	"message_updated": true,
}

var eventValidator = validator.New()

// maxUnwrapDepth bounds how many payload/data wrappers are peeled off.
const maxUnwrapDepth = 3

// EventNameFromBody reads the top-level "event" field, if any.
func EventNameFromBody(raw []byte) string {
	var envelope struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(raw, &envelope)
	return strings.TrimSpace(envelope.Event)
}

// Normalize turns a raw webhook body into a canonical Event. Unknown event
// names yield UnhandledEvent without looking at the body.
func Normalize(eventName string, raw []byte) (Event, error) {
	name := strings.ToLower(strings.TrimSpace(eventName))
	if name == "" {
		name = strings.ToLower(EventNameFromBody(raw))
	}
	if !conversationEvents[name] && !messageEvents[name] {
		return UnhandledEvent{Name: name}, nil
	}

	root, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	obj := unwrap(root)

	if conversationEvents[name] {
		convObj := asMap(obj["conversation"])
		if convObj == nil {
			convObj = obj
		}
		conv := normalizeConversation(convObj, obj)
		if err := eventValidator.Struct(conv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return ConversationEvent{Name: name, Conversation: conv}, nil
	}

	msgObj := asMap(obj["message"])
	if msgObj == nil {
		msgObj = obj
	}
	convObj := asMap(obj["conversation"])
	if convObj == nil {
		convObj = asMap(msgObj["conversation"])
	}
	if convObj == nil {
		if id := asString(msgObj["conversation_id"]); id != "" {
			convObj = map[string]interface{}{"id": id}
		}
	}
	if convObj == nil {
		return nil, fmt.Errorf("%w: message event without conversation", ErrMalformedPayload)
	}

	conv := normalizeConversation(convObj, obj)
	msg := normalizeMessage(msgObj)
	// The contact may only be present as the sender of an incoming message.
	if conv.Contact.ID == "" && msg.Sender != nil && !msg.Sender.IsAgent() && msg.IsIncoming() {
		conv.Contact = *msg.Sender
	}
	if err := eventValidator.Struct(conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := eventValidator.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return MessageEvent{Name: name, Conversation: conv, Message: msg}, nil
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("body is not a JSON object")
	}
	return out, nil
}

// unwrap peels {"payload": {...}} and {"data": {...}} envelopes until it
// reaches an object with an id or a conversation/message pair.
func unwrap(obj map[string]interface{}) map[string]interface{} {
	for i := 0; i < maxUnwrapDepth; i++ {
		if _, ok := obj["id"]; ok {
			return obj
		}
		if asMap(obj["conversation"]) != nil || asMap(obj["message"]) != nil {
			return obj
		}
		next := asMap(obj["payload"])
		if next == nil {
			next = asMap(obj["data"])
		}
		if next == nil {
			return obj
		}
		obj = next
	}
	return obj
}

func normalizeConversation(conv, outer map[string]interface{}) Conversation {
	meta := mapOrEmpty(conv["meta"])

	out := Conversation{
		ID:                   asString(conv["id"]),
		InboxID:              firstString(conv["inbox_id"], nested(conv, "inbox", "id"), nested(outer, "inbox", "id")),
		AccountID:            firstString(conv["account_id"], nested(conv, "account", "id"), nested(outer, "account", "id")),
		Status:               strings.ToLower(asString(conv["status"])),
		Priority:             strings.ToLower(asString(conv["priority"])),
		AdditionalAttributes: mapOrEmpty(conv["additional_attributes"]),
		CustomAttributes:     mapOrEmpty(conv["custom_attributes"]),
		UpdatedAt:            firstTime(conv["updated_at"], conv["timestamp"], conv["last_activity_at"]),
	}

	contact := asMap(meta["sender"])
	if contact == nil {
		contact = asMap(conv["contact"])
	}
	if contact == nil {
		contact = asMap(outer["contact"])
	}
	out.Contact = normalizeParty(mapOrEmpty(contact), "contact")

	if assignee := asMap(meta["assignee"]); assignee != nil {
		p := normalizeParty(assignee, "user")
		out.Assignee = &p
	} else if assignee := asMap(conv["assignee"]); assignee != nil {
		p := normalizeParty(assignee, "user")
		out.Assignee = &p
	}
	return out
}

func normalizeParty(obj map[string]interface{}, defaultType string) Party {
	t := strings.ToLower(asString(obj["type"]))
	if t == "" {
		t = defaultType
	}
	return Party{
		ID:                   asString(obj["id"]),
		Type:                 t,
		Name:                 strings.TrimSpace(asString(obj["name"])),
		Email:                strings.TrimSpace(asString(obj["email"])),
		Phone:                strings.TrimSpace(asString(obj["phone_number"])),
		Identifier:           strings.TrimSpace(asString(obj["identifier"])),
		CustomAttributes:     mapOrEmpty(obj["custom_attributes"]),
		AdditionalAttributes: mapOrEmpty(obj["additional_attributes"]),
	}
}

func normalizeMessage(obj map[string]interface{}) Message {
	msg := Message{
		ID:          asString(obj["id"]),
		Type:        normalizeMessageType(obj["message_type"]),
		ContentType: asString(obj["content_type"]),
		Content:     normalizeContent(obj["content"]),
		Private:     asBool(obj["private"]),
		CreatedAt:   firstTime(obj["created_at"]),
		Raw:         snapshot(obj),
	}

	senderType := strings.ToLower(asString(obj["sender_type"]))
	if sender := asMap(obj["sender"]); sender != nil {
		if senderType == "" {
			senderType = defaultSenderType(msg.Type)
		}
		p := normalizeParty(sender, senderType)
		if p.Type == "agentbot" || p.Type == "agent_bot" {
			p.Type = "agent_bot"
		}
		msg.Sender = &p
	}

	if list, ok := obj["attachments"].([]interface{}); ok {
		for _, item := range list {
			a := asMap(item)
			if a == nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, normalizeAttachment(a))
		}
	}
	return msg
}

func defaultSenderType(messageType string) string {
	if messageType == MessageTypeIncoming {
		return "contact"
	}
	return "user"
}

func normalizeAttachment(a map[string]interface{}) Attachment {
	dataURL := asString(a["data_url"])
	name := asString(a["file_name"])
	if name == "" && dataURL != "" {
		name = path.Base(strings.SplitN(dataURL, "?", 2)[0])
	}
	mimeType := asString(a["content_type"])
	if mimeType == "" {
		if ext := asString(a["extension"]); ext != "" {
			mimeType = mime.TypeByExtension("." + strings.TrimPrefix(ext, "."))
		} else if name != "" {
			mimeType = mime.TypeByExtension(path.Ext(name))
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	size, _ := strconv.ParseInt(asString(a["file_size"]), 10, 64)
	return Attachment{
		ID:       asString(a["id"]),
		FileType: asString(a["file_type"]),
		FileName: name,
		MimeType: mimeType,
		Size:     size,
		DataURL:  dataURL,
		ThumbURL: asString(a["thumb_url"]),
	}
}

// Integer codes used by the platform for message_type.
var messageTypeCodes = map[string]string{
	"0": MessageTypeIncoming,
	"1": MessageTypeOutgoing,
	"2": MessageTypeActivity,
	"3": MessageTypeTemplate,
}

func normalizeMessageType(v interface{}) string {
	s := strings.ToLower(strings.TrimSpace(asString(v)))
	if mapped, ok := messageTypeCodes[s]; ok {
		return mapped
	}
	if s == "" {
		return MessageTypeIncoming
	}
	return s
}

// normalizeContent strips markup from text and serializes anything else to
// stable JSON (encoding/json sorts map keys).
func normalizeContent(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return StripMarkup(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}

// StripMarkup returns the visible text of s with whitespace collapsed.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return utils.CollapseWhitespace(s)
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; either way keep what was read.
			return utils.CollapseWhitespace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			}
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func snapshot(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "conversation" {
			continue
		}
		out[k] = v
	}
	return out
}

/* loose JSON accessors */

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func mapOrEmpty(v interface{}) map[string]interface{} {
	if m := asMap(v); m != nil {
		return m
	}
	return map[string]interface{}{}
}

func nested(obj map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = obj
	for _, k := range keys {
		m := asMap(cur)
		if m == nil {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

func firstString(values ...interface{}) string {
	for _, v := range values {
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

// asTime accepts unix seconds (number or numeric string) and RFC3339 strings.
func asTime(v interface{}) (time.Time, bool) {
	s := strings.TrimSpace(asString(v))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f <= 0 {
			return time.Time{}, false
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05 MST", "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstTime(values ...interface{}) time.Time {
	for _, v := range values {
		if t, ok := asTime(v); ok {
			return t
		}
	}
	return time.Time{}
}
