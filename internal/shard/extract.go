// Package shard fetches implementor shards from a documentation tree and
// feeds them to an index.
package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrNoPayload is returned when a shard body carries no recognizable data.
var ErrNoPayload = errors.New("no shard payload found")

// ErrInvalidPayload is returned when the extracted payload is not JSON.
var ErrInvalidPayload = errors.New("shard payload is not valid JSON")

// Extract returns the JSON payload of a shard body. Plain JSON is returned
// as is; rustdoc script wrappers of the form JSON.parse('...') and
// Object.fromEntries([...]) are unwrapped. The payload is always valid JSON.
func Extract(body []byte) ([]byte, error) {
	payload, err := extract(body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	return payload, nil
}

func extract(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, ErrNoPayload
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed, nil
	}

	if i := bytes.Index(trimmed, []byte("JSON.parse(")); i >= 0 {
		rest := bytes.TrimLeft(trimmed[i+len("JSON.parse("):], " \t\r\n")
		s, err := unquoteJS(rest)
		if err != nil {
			return nil, fmt.Errorf("extracting JSON.parse payload: %w", err)
		}
		return []byte(s), nil
	}

	if i := bytes.Index(trimmed, []byte("Object.fromEntries(")); i >= 0 {
		rest := trimmed[i+len("Object.fromEntries("):]
		start := bytes.IndexByte(rest, '[')
		if start < 0 {
			return nil, fmt.Errorf("extracting Object.fromEntries payload: %w", ErrNoPayload)
		}
		end, err := matchBracket(rest[start:])
		if err != nil {
			return nil, fmt.Errorf("extracting Object.fromEntries payload: %w", err)
		}
		return rest[start : start+end+1], nil
	}

	return nil, ErrNoPayload
}

// matchBracket returns the index of the bracket closing src[0], skipping
// over JSON string literals.
func matchBracket(src []byte) (int, error) {
	depth := 0
	inString := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errors.New("unbalanced brackets")
}

// unquoteJS decodes a single, double or backtick quoted JavaScript string
// literal at the start of src.
func unquoteJS(src []byte) (string, error) {
	if len(src) == 0 {
		return "", ErrNoPayload
	}
	quote := src[0]
	if quote != '\'' && quote != '"' && quote != '`' {
		return "", fmt.Errorf("expected string literal, got %q", quote)
	}

	var b strings.Builder
	for i := 1; i < len(src); i++ {
		c := src[i]
		if c == quote {
			return b.String(), nil
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(src) {
			break
		}
		switch esc := src[i]; esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
			// line continuation
		case 'x':
			r, err := hexRune(src, i+1, 2)
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
			i += 2
		case 'u':
			r, err := hexRune(src, i+1, 4)
			if err != nil {
				return "", err
			}
			i += 4
			if utf16Surrogate(r) && i+6 < len(src) && src[i+1] == '\\' && src[i+2] == 'u' {
				if lo, err := hexRune(src, i+3, 4); err == nil {
					r = combineSurrogates(r, lo)
					i += 6
				}
			}
			b.WriteRune(r)
		default:
			b.WriteByte(esc)
		}
	}
	return "", errors.New("unterminated string literal")
}

func hexRune(src []byte, at, n int) (rune, error) {
	if at+n > len(src) {
		return 0, errors.New("truncated escape sequence")
	}
	v, err := strconv.ParseUint(string(src[at:at+n]), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad escape sequence %q", src[at:at+n])
	}
	return rune(v), nil
}

func utf16Surrogate(r rune) bool {
	return r >= 0xd800 && r < 0xdc00
}

func combineSurrogates(hi, lo rune) rune {
	if lo < 0xdc00 || lo >= 0xe000 {
		return utf8.RuneError
	}
	return (hi-0xd800)<<10 + (lo - 0xdc00) + 0x10000
}

// PageKey maps a shard path to the page it belongs to, dropping the leading
// slash and any .js, .json or .zst extensions.
func PageKey(path string) string {
	key := strings.TrimLeft(path, "/")
	for {
		switch {
		case strings.HasSuffix(key, ".zst"):
			key = strings.TrimSuffix(key, ".zst")
		case strings.HasSuffix(key, ".json"):
			key = strings.TrimSuffix(key, ".json")
		case strings.HasSuffix(key, ".js"):
			key = strings.TrimSuffix(key, ".js")
		default:
			return key
		}
	}
}

// Dirs are the top-level directories rustdoc writes shards into.
var Dirs = []string{"implementors", "trait.impl", "type.impl"}

// DocPath strips the shard directory from a page key, leaving the path of
// the documentation page it extends: implementors/core/fmt/trait.Debug
// becomes core/fmt/trait.Debug.
func DocPath(page string) string {
	page = PageKey(page)
	for _, dir := range Dirs {
		if rest, ok := strings.CutPrefix(page, dir+"/"); ok {
			return rest
		}
	}
	return page
}

// PageURL is the published URL of the documentation page a panel extends.
func PageURL(base, page string) string {
	return strings.TrimRight(base, "/") + "/" + DocPath(page) + ".html"
}
