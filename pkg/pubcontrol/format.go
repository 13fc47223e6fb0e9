package pubcontrol

import (
	"encoding/base64"
	"maps"
	"unicode/utf8"
)

// Format is one named payload shape contributed to an Item. An Item may hold
// at most one Format per Name.
type Format interface {
	Name() string
	Export() map[string]any
}

// JSONObjectFormat publishes an arbitrary JSON object under "json-object".
type JSONObjectFormat struct {
	Value map[string]any
}

func (f JSONObjectFormat) Name() string { return "json-object" }

func (f JSONObjectFormat) Export() map[string]any {
	return maps.Clone(f.Value)
}

// HTTPResponseFormat is the "http-response" envelope: a complete response
// delivered to long-polling subscribers.
type HTTPResponseFormat struct {
	Code    int
	Reason  string
	Headers map[string]string
	Body    []byte
}

func (f HTTPResponseFormat) Name() string { return "http-response" }

func (f HTTPResponseFormat) Export() map[string]any {
	out := map[string]any{}
	if f.Code != 0 {
		out["code"] = f.Code
	}
	if f.Reason != "" {
		out["reason"] = f.Reason
	}
	if len(f.Headers) > 0 {
		out["headers"] = maps.Clone(f.Headers)
	}
	if f.Body != nil {
		putBytes(out, "body", f.Body)
	}
	return out
}

// HTTPStreamFormat is the "http-stream" chunk: content appended to open
// streaming responses, or a request to close them.
type HTTPStreamFormat struct {
	Content []byte
	Close   bool
}

func (f HTTPStreamFormat) Name() string { return "http-stream" }

func (f HTTPStreamFormat) Export() map[string]any {
	out := map[string]any{}
	if f.Close {
		out["action"] = "close"
		return out
	}
	putBytes(out, "content", f.Content)
	return out
}

// RawFormat carries an already-exported payload under an arbitrary name.
// Decoders use it for format names they have no dedicated type for.
type RawFormat struct {
	FormatName string
	Fields     map[string]any
}

func (f RawFormat) Name() string { return f.FormatName }

func (f RawFormat) Export() map[string]any {
	return maps.Clone(f.Fields)
}

// putBytes stores text as key, or base64 as key+"-bin" when b is not UTF-8.
func putBytes(out map[string]any, key string, b []byte) {
	if utf8.Valid(b) {
		out[key] = string(b)
		return
	}
	out[key+"-bin"] = base64.StdEncoding.EncodeToString(b)
}
