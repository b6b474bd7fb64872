package bluesky

import (
	"encoding/json"
	"fmt"
)

// restrictedLabels are the moderation label values that route a post to nsfw/
var restrictedLabels = map[string]bool{
	"porn":            true,
	"sexual":          true,
	"nudity":          true,
	"graphic-media":   true,
	"self-harm":       true,
	"sensitive":       true,
	"content-warning": true,
}

// Post is a post view as returned by the feed endpoints
type Post struct {
	URI       string  `json:"uri"`
	CID       string  `json:"cid"`
	Author    Author  `json:"author"`
	Record    Record  `json:"record"`
	IndexedAt string  `json:"indexedAt"`
	Labels    []Label `json:"labels,omitempty"`
}

// Author identifies who wrote a post
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
}

// Label is a moderation label attached to a post
type Label struct {
	Src string `json:"src"`
	URI string `json:"uri"`
	Val string `json:"val"`
	Cts string `json:"cts"`
}

// Record is the post record. Raw keeps the payload exactly as received.
type Record struct {
	Type      string
	Text      string
	CreatedAt string
	Embed     Embed
	Raw       json.RawMessage
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type      string          `json:"$type"`
		Text      string          `json:"text"`
		CreatedAt string          `json:"createdAt"`
		Embed     json.RawMessage `json:"embed"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Type = aux.Type
	r.Text = aux.Text
	r.CreatedAt = aux.CreatedAt
	r.Raw = append(json.RawMessage(nil), data...)
	r.Embed = nil

	if len(aux.Embed) > 0 && string(aux.Embed) != "null" {
		embed, err := DecodeEmbed(aux.Embed)
		if err != nil {
			return fmt.Errorf("record embed: %w", err)
		}
		r.Embed = embed
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(map[string]interface{}{
		"$type":     r.Type,
		"text":      r.Text,
		"createdAt": r.CreatedAt,
	})
}

// HasRestrictedLabel reports whether any label is in the recognized NSFW set
func (p *Post) HasRestrictedLabel() bool {
	for _, label := range p.Labels {
		if restrictedLabels[label.Val] {
			return true
		}
	}
	return false
}

// Images returns the post's image attachments in order; nil when the embed is anything else
func (p *Post) Images() []Image {
	if images, ok := p.Record.Embed.(*ImagesEmbed); ok {
		return images.Images
	}
	return nil
}

// IsQuote reports whether the post embeds another post, with or without media
func (p *Post) IsQuote() bool {
	switch p.Record.Embed.(type) {
	case *RecordEmbed, *RecordWithMediaEmbed:
		return true
	}
	return false
}

// FeedItem wraps a post in a feed page. Reason is set for reposts and pins.
type FeedItem struct {
	Post   Post            `json:"post"`
	Reason json.RawMessage `json:"reason,omitempty"`
}

// IsRepost reports whether the item is shown because of someone else's action
func (i *FeedItem) IsRepost() bool {
	return len(i.Reason) > 0 && string(i.Reason) != "null"
}

// FeedPage is one page of getActorLikes or getAuthorFeed
type FeedPage struct {
	Feed   []FeedItem `json:"feed"`
	Cursor string     `json:"cursor,omitempty"`
}
