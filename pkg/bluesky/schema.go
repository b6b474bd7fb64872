package bluesky

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/bluejorts/bluesky-archiver/pkg/errors"
)

// feedPageSchema covers the fields the archiver depends on. Everything else
// is allowed through so additive API changes do not break decoding.
const feedPageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["feed"],
  "properties": {
    "cursor": {"type": "string"},
    "feed": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["post"],
        "properties": {
          "reason": {"type": "object"},
          "post": {
            "type": "object",
            "required": ["uri", "cid", "author", "record"],
            "properties": {
              "uri": {"type": "string", "minLength": 1},
              "cid": {"type": "string", "minLength": 1},
              "author": {
                "type": "object",
                "required": ["did", "handle"],
                "properties": {
                  "did": {"type": "string"},
                  "handle": {"type": "string"}
                }
              },
              "record": {"type": "object"},
              "labels": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["val"],
                  "properties": {"val": {"type": "string"}}
                }
              }
            }
          }
        }
      }
    }
  }
}`

var (
	feedSchemaOnce sync.Once
	feedSchema     *jsonschema.Schema
	feedSchemaErr  error
)

func compiledFeedSchema() (*jsonschema.Schema, error) {
	feedSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(feedPageSchema))
		if err != nil {
			feedSchemaErr = fmt.Errorf("parse feed page schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("feed-page.json", doc); err != nil {
			feedSchemaErr = fmt.Errorf("add feed page schema: %w", err)
			return
		}
		feedSchema, feedSchemaErr = c.Compile("feed-page.json")
	})
	return feedSchema, feedSchemaErr
}

// DecodeFeedPage validates and decodes a getActorLikes or getAuthorFeed body.
// Failures are decode errors carrying a preview of the raw payload.
func DecodeFeedPage(endpoint string, body []byte) (*FeedPage, error) {
	schema, err := compiledFeedSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewDecodeError(endpoint, err, body)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, apperrors.NewDecodeError(endpoint, err, body)
	}

	var page FeedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, apperrors.NewDecodeError(endpoint, err, body)
	}
	return &page, nil
}
