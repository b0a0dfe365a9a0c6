package api

import (
	"strings"
	"time"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

// payloadFields is embedded in request bodies that carry a message. A
// media_ref turns the text into the caption of a media payload.
type payloadFields struct {
	Text      string `json:"text"`
	MediaRef  string `json:"media_ref,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
}

func (p payloadFields) payload() (model.Payload, error) {
	var out model.Payload = model.Text{Body: p.Text}
	if strings.TrimSpace(p.MediaRef) != "" {
		kind, err := model.ParseMediaKind(p.MediaKind)
		if err != nil {
			return nil, err
		}
		out = model.Media{Caption: p.Text, Ref: strings.TrimSpace(p.MediaRef), Kind: kind}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

type payloadView struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
}

func viewPayload(p model.Payload) payloadView {
	switch v := p.(type) {
	case model.Text:
		return payloadView{Type: "text", Text: v.Body}
	case model.Media:
		return payloadView{Type: "media", Caption: v.Caption, MediaRef: v.Ref, MediaKind: string(v.Kind)}
	case model.Undecodable:
		return payloadView{Type: "invalid", Text: v.Reason}
	default:
		return payloadView{Type: "unknown"}
	}
}

type broadcastView struct {
	ID        int64       `json:"id"`
	Title     string      `json:"title"`
	Payload   payloadView `json:"payload"`
	SegmentID *int64      `json:"segment_id,omitempty"`
	DueAt     time.Time   `json:"due_at"`
	Status    string      `json:"status"`
	IsSent    bool        `json:"is_sent"`
	SentCount int         `json:"sent_count"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func viewBroadcast(j model.BroadcastJob) broadcastView {
	return broadcastView{
		ID:        j.ID,
		Title:     j.Title,
		Payload:   viewPayload(j.Payload),
		SegmentID: j.SegmentID,
		DueAt:     j.DueAt,
		Status:    string(j.EffectiveStatus()),
		IsSent:    j.IsSent,
		SentCount: j.SentCount,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

type entryView struct {
	ID        int64       `json:"id"`
	ContactID int64       `json:"contact_id"`
	Payload   payloadView `json:"payload"`
	DueAt     time.Time   `json:"due_at"`
	Sent      bool        `json:"sent"`
	CreatedAt time.Time   `json:"created_at"`
}

func viewEntry(e model.PersonalEntry) entryView {
	return entryView{
		ID:        e.ID,
		ContactID: e.ContactID,
		Payload:   viewPayload(e.Payload),
		DueAt:     e.DueAt,
		Sent:      e.Sent,
		CreatedAt: e.CreatedAt,
	}
}
