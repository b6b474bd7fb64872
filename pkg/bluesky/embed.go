package bluesky

import (
	"encoding/json"
	"fmt"
)

const (
	EmbedTypeImages          = "app.bsky.embed.images"
	EmbedTypeExternal        = "app.bsky.embed.external"
	EmbedTypeRecord          = "app.bsky.embed.record"
	EmbedTypeRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// Embed is the attachment of a post record, discriminated by its $type
type Embed interface {
	EmbedType() string
}

// ImagesEmbed carries up to four images
type ImagesEmbed struct {
	Images []Image `json:"images"`
}

// Image is one image attachment
type Image struct {
	Alt         string       `json:"alt"`
	Image       Blob         `json:"image"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Blob is a blob reference. Legacy records carry a bare cid instead of ref.$link.
type Blob struct {
	Type     string  `json:"$type"`
	Ref      BlobRef `json:"ref"`
	MimeType string  `json:"mimeType"`
	Size     int64   `json:"size"`
	LegacyID string  `json:"cid,omitempty"`
}

type BlobRef struct {
	Link string `json:"$link"`
}

// CID returns the content identifier of the blob
func (b Blob) CID() string {
	if b.Ref.Link != "" {
		return b.Ref.Link
	}
	return b.LegacyID
}

// ExternalEmbed is a link card
type ExternalEmbed struct {
	External struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"external"`
}

// RecordEmbed quotes another record
type RecordEmbed struct {
	Record struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	} `json:"record"`
}

// RecordWithMediaEmbed quotes another record and adds its own media
type RecordWithMediaEmbed struct {
	Record RecordEmbed
	Media  Embed
}

// UnknownEmbed keeps any embed type this package does not model
type UnknownEmbed struct {
	Type string
	Raw  json.RawMessage
}

func (*ImagesEmbed) EmbedType() string          { return EmbedTypeImages }
func (*ExternalEmbed) EmbedType() string        { return EmbedTypeExternal }
func (*RecordEmbed) EmbedType() string          { return EmbedTypeRecord }
func (*RecordWithMediaEmbed) EmbedType() string { return EmbedTypeRecordWithMedia }
func (u *UnknownEmbed) EmbedType() string       { return u.Type }

// DecodeEmbed decodes an embed by its declared $type. Types that are not
// modelled become *UnknownEmbed; a modelled type with a malformed body is an error.
func DecodeEmbed(raw json.RawMessage) (Embed, error) {
	var head struct {
		Type string `json:"$type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case EmbedTypeImages:
		var e ImagesEmbed
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return &e, nil
	case EmbedTypeExternal:
		var e ExternalEmbed
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return &e, nil
	case EmbedTypeRecord:
		var e RecordEmbed
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return &e, nil
	case EmbedTypeRecordWithMedia:
		var aux struct {
			Record RecordEmbed     `json:"record"`
			Media  json.RawMessage `json:"media"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		e := &RecordWithMediaEmbed{Record: aux.Record}
		if len(aux.Media) > 0 && string(aux.Media) != "null" {
			media, err := DecodeEmbed(aux.Media)
			if err != nil {
				return nil, fmt.Errorf("decode %s media: %w", head.Type, err)
			}
			e.Media = media
		}
		return e, nil
	default:
		return &UnknownEmbed{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
