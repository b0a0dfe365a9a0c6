package model

import "strings"

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// ParseMediaKind accepts the stored kind names plus the "photo" and "file"
// aliases used by admin input.
func ParseMediaKind(raw string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "image", "photo":
		return MediaImage, nil
	case "document", "file":
		return MediaDocument, nil
	case "video":
		return MediaVideo, nil
	default:
		return "", invalid("media kind", "unknown kind "+raw)
	}
}

// Payload is either Text or Media. The set is closed: only types in this
// package implement it.
type Payload interface {
	payload()
	Validate() error
}

type Text struct {
	Body string
}

type Media struct {
	Caption string
	Ref     string
	Kind    MediaKind
}

// Undecodable stands in for a stored payload that no longer parses. It
// never validates, so it is retired like any other invalid delivery
// instead of failing the whole listing it was read in.
type Undecodable struct {
	Reason string
}

func (Text) payload()        {}
func (Media) payload()       {}
func (Undecodable) payload() {}

func (u Undecodable) Validate() error {
	return invalid("payload", "stored payload cannot be decoded: "+u.Reason)
}

func (t Text) Validate() error {
	if strings.TrimSpace(t.Body) == "" {
		return invalid("payload", "text body is empty")
	}
	return nil
}

func (m Media) Validate() error {
	if strings.TrimSpace(m.Ref) == "" {
		return invalid("payload", "media reference is empty")
	}
	switch m.Kind {
	case MediaImage, MediaDocument, MediaVideo:
		return nil
	default:
		return invalid("media kind", "unknown kind "+string(m.Kind))
	}
}

// PayloadColumns flattens a payload into its stored form.
func PayloadColumns(p Payload) (body string, mediaRef, mediaKind *string) {
	switch v := p.(type) {
	case Text:
		return v.Body, nil, nil
	case Media:
		ref, kind := v.Ref, string(v.Kind)
		return v.Caption, &ref, &kind
	default:
		return "", nil, nil
	}
}

// PayloadFromColumns is the inverse of PayloadColumns. A row with no media
// reference is a Text payload.
func PayloadFromColumns(body string, mediaRef, mediaKind *string) (Payload, error) {
	if mediaRef == nil || *mediaRef == "" {
		return Text{Body: body}, nil
	}
	kind := ""
	if mediaKind != nil {
		kind = *mediaKind
	}
	k, err := ParseMediaKind(kind)
	if err != nil {
		return nil, err
	}
	return Media{Caption: body, Ref: *mediaRef, Kind: k}, nil
}
