package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Metadata is the book descriptor returned by the epubs endpoint.
type Metadata struct {
	ID    string `json:"-"`
	Title string `json:"title"`
	Files string `json:"files"`
}

type filesPage struct {
	Results []fileEntry `json:"results"`
	Next    *string     `json:"next"`
}

type fileEntry struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	FullPath  string `json:"full_path"`
	FileName  string `json:"filename"`
	Kind      string `json:"kind"`
}

const metadataSchema = `{
  "type": "object",
  "required": ["title", "files"],
  "properties": {
    "title": {"type": "string"},
    "files": {"type": "string", "minLength": 1}
  }
}`

const filesPageSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["url", "full_path", "filename"],
        "properties": {
          "url": {"type": "string"},
          "media_type": {"type": ["string", "null"]},
          "full_path": {"type": "string"},
          "filename": {"type": "string"},
          "kind": {"type": ["string", "null"]}
        }
      }
    },
    "next": {"type": ["string", "null"]}
  }
}`

var (
	metadataValidator  = mustSchema(metadataSchema)
	filesPageValidator = mustSchema(filesPageSchema)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("collector: invalid embedded schema: %v", err))
	}
	return schema
}

// PayloadError reports a response that lacks a required field.
type PayloadError struct {
	URL      string
	Problems []string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("unexpected payload from %s: %s", e.URL, strings.Join(e.Problems, "; "))
}

func decodeChecked(schema *gojsonschema.Schema, rawURL string, body []byte, v any) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", rawURL, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			problems = append(problems, field+": "+desc.Description())
		}
		return &PayloadError{URL: rawURL, Problems: problems}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}
