package app

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"pubcontrol/pkg/pubcontrol"
)

var (
	errNoChannel = errors.New("envelope: channel is required")
	errNoFormats = errors.New("envelope: at least one format is required")
)

// Envelope is one line of relay input:
//
//	{"channel":"news","id":"2","prev-id":"1","formats":{"json-object":{...}}}
type Envelope struct {
	Channel string                     `json:"channel"`
	ID      *string                    `json:"id,omitempty"`
	PrevID  *string                    `json:"prev-id,omitempty"`
	Formats map[string]json.RawMessage `json:"formats"`
}

type httpResponseWire struct {
	Code    int               `json:"code,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
	BodyBin *string           `json:"body-bin,omitempty"`
}

type httpStreamWire struct {
	Action     string  `json:"action,omitempty"`
	Content    *string `json:"content,omitempty"`
	ContentBin *string `json:"content-bin,omitempty"`
}

// DecodeEnvelope parses one input line strictly.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrict(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	env.Channel = strings.TrimSpace(env.Channel)
	if env.Channel == "" {
		return Envelope{}, errNoChannel
	}
	if len(env.Formats) == 0 {
		return Envelope{}, errNoFormats
	}
	return env, nil
}

// Item converts the envelope into a publishable item. Formats are ordered by
// name so exports are deterministic.
func (e Envelope) Item() (*pubcontrol.Item, error) {
	names := make([]string, 0, len(e.Formats))
	for name := range e.Formats {
		names = append(names, name)
	}
	sort.Strings(names)

	formats := make([]pubcontrol.Format, 0, len(names))
	for _, name := range names {
		f, err := decodeFormat(name, e.Formats[name])
		if err != nil {
			return nil, fmt.Errorf("format %q: %w", name, err)
		}
		formats = append(formats, f)
	}

	var opts []pubcontrol.ItemOption
	if e.ID != nil {
		opts = append(opts, pubcontrol.WithID(*e.ID))
	}
	if e.PrevID != nil {
		opts = append(opts, pubcontrol.WithPrevID(*e.PrevID))
	}
	return pubcontrol.NewItem(formats, opts...), nil
}

func decodeFormat(name string, raw json.RawMessage) (pubcontrol.Format, error) {
	switch name {
	case "http-response":
		var w httpResponseWire
		if err := decodeStrict(raw, &w); err != nil {
			return nil, err
		}
		f := pubcontrol.HTTPResponseFormat{Code: w.Code, Reason: w.Reason, Headers: w.Headers}
		body, err := textOrBinary(w.Body, w.BodyBin)
		if err != nil {
			return nil, err
		}
		f.Body = body
		return f, nil
	case "http-stream":
		var w httpStreamWire
		if err := decodeStrict(raw, &w); err != nil {
			return nil, err
		}
		if w.Action != "" {
			if w.Action != "close" {
				return nil, fmt.Errorf("unknown action %q", w.Action)
			}
			return pubcontrol.HTTPStreamFormat{Close: true}, nil
		}
		content, err := textOrBinary(w.Content, w.ContentBin)
		if err != nil {
			return nil, err
		}
		if content == nil {
			return nil, errors.New("content or content-bin is required")
		}
		return pubcontrol.HTTPStreamFormat{Content: content}, nil
	}

	// Numbers stay json.Number so large integers reach the wire unchanged.
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("must be a JSON object")
	}
	if name == "json-object" {
		return pubcontrol.JSONObjectFormat{Value: fields}, nil
	}
	return pubcontrol.RawFormat{FormatName: name, Fields: fields}, nil
}

func textOrBinary(text, bin *string) ([]byte, error) {
	switch {
	case text != nil && bin != nil:
		return nil, errors.New("text and -bin variants are mutually exclusive")
	case text != nil:
		return []byte(*text), nil
	case bin != nil:
		b, err := base64.StdEncoding.DecodeString(*bin)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil
	default:
		return nil, nil
	}
}

func decodeStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("trailing data")
		}
		return err
	}
	return nil
}
