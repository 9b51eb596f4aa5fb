package trapper

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformed is returned by Decode for bytes that do not follow the
// request template.
var ErrMalformed = errors.New("malformed trapper request")

var fieldTags = [3]string{"host", "key", "data"}

// Encode renders one trapper request:
//
//	<req><host>B64(identity)</host><key>B64(key)</key><data>B64(value)</data></req>
//
// Each field is standard base64 without line wrapping, so the payload is
// plain ASCII and ends at the closing </req> tag.
func Encode(identity, key, value string) []byte {
	enc := base64.StdEncoding
	fields := [3]string{identity, key, value}

	size := len("<req></req>")
	for i, f := range fields {
		size += 2*len(fieldTags[i]) + len("<></>") + enc.EncodedLen(len(f))
	}

	buf := make([]byte, 0, size)
	buf = append(buf, "<req>"...)
	for i, f := range fields {
		buf = append(buf, '<')
		buf = append(buf, fieldTags[i]...)
		buf = append(buf, '>')
		buf = enc.AppendEncode(buf, []byte(f))
		buf = append(buf, "</"...)
		buf = append(buf, fieldTags[i]...)
		buf = append(buf, '>')
	}
	return append(buf, "</req>"...)
}

// Decode is the inverse of Encode. Trailing bytes after </req> are rejected.
func Decode(b []byte) (identity, key, value string, err error) {
	rest, ok := bytes.CutPrefix(b, []byte("<req>"))
	if !ok {
		return "", "", "", fmt.Errorf("%w: missing <req>", ErrMalformed)
	}
	var out [3]string
	for i, tag := range fieldTags {
		rest, ok = bytes.CutPrefix(rest, []byte("<"+tag+">"))
		if !ok {
			return "", "", "", fmt.Errorf("%w: missing <%s>", ErrMalformed, tag)
		}
		raw, after, found := bytes.Cut(rest, []byte("</"+tag+">"))
		if !found {
			return "", "", "", fmt.Errorf("%w: unterminated <%s>", ErrMalformed, tag)
		}
		decoded, decErr := base64.StdEncoding.DecodeString(string(raw))
		if decErr != nil {
			return "", "", "", fmt.Errorf("%w: <%s>: %w", ErrMalformed, tag, decErr)
		}
		out[i] = string(decoded)
		rest = after
	}
	if !bytes.Equal(rest, []byte("</req>")) {
		return "", "", "", fmt.Errorf("%w: expected </req> at end", ErrMalformed)
	}
	return out[0], out[1], out[2], nil
}
