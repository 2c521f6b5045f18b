package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledger/internal/core"
)

// maxBodySize bounds request bodies; a transaction is a few hundred bytes.
const maxBodySize = 64 << 10

// errMalformedBody marks a body that could not be decoded at all.
var errMalformedBody = errors.New("malformed request body")

// RequestBodyParser reads a JSON object or a form-encoded body once and
// exposes its fields as strings. JSON numbers keep their exact text.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{contentType: r.Header.Get("Content-Type")}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if p.err == nil && len(p.body) > maxBodySize {
		p.err = fmt.Errorf("%w: body exceeds %d bytes", errMalformedBody, maxBodySize)
	}
	return p
}

// Parse decodes the body as JSON when it looks like a JSON object and as
// form values otherwise.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: %v", errMalformedBody, err)
			return p.err
		}
		if dec.More() {
			p.err = fmt.Errorf("%w: trailing data after JSON object", errMalformedBody)
			return p.err
		}
		if p.jsonData == nil {
			p.err = fmt.Errorf("%w: expected a JSON object", errMalformedBody)
		}
		return p.err
	}

	p.formData, p.err = url.ParseQuery(string(trimmed))
	if p.err != nil {
		p.err = fmt.Errorf("%w: %v", errMalformedBody, p.err)
	}
	return p.err
}

// Get returns the trimmed, control-character free value of key.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseTransactionInput builds a core.Input from the request body. Amount may
// be a JSON number or string. Only transport problems are reported here;
// field validation is left to the ledger.
func ParseTransactionInput(r *http.Request) (core.Input, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return core.Input{}, err
	}

	in := core.Input{
		Title:    p.Get("title"),
		Amount:   p.Get("amount"),
		Type:     p.Get("type"),
		Category: p.Get("category"),
	}
	if raw := p.Get("date"); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			return core.Input{}, &core.ValidationError{Field: "date", Reason: "must be RFC 3339 or YYYY-MM-DD"}
		}
		in.Date = date
	}
	return in, nil
}

// ParsePeriodParam reads the optional month query parameter.
func ParsePeriodParam(query url.Values) (core.Period, error) {
	return core.ParsePeriod(strings.TrimSpace(query.Get("month")))
}

// parseDate accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date, which is
// taken as midnight UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
