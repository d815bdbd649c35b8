package shard

import (
	"errors"
	"testing"
)

func TestExtract_PlainJSON(t *testing.T) {
	t.Parallel()
	got, err := Extract([]byte("  {\"serde\":[]}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"serde":[]}` {
		t.Errorf("got %q", got)
	}
}

func TestExtract_JSONParse(t *testing.T) {
	t.Parallel()
	body := `(function() {
    var implementors = JSON.parse('{"core":[["impl <a href=\"fmt/trait.Debug.html\">Debug</a> for Foo",0,["Foo"]]],"it\'s":[]}');
    if (window.register_implementors) {
        window.register_implementors(implementors);
    } else {
        window.pending_implementors = implementors;
    }
})()`
	got, err := Extract([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"core":[["impl <a href="fmt/trait.Debug.html">Debug</a> for Foo",0,["Foo"]]],"it's":[]}`
	if string(got) != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestExtract_JSONParseUnicodeEscapes(t *testing.T) {
	t.Parallel()
	got, err := Extract([]byte(`x = JSON.parse("{\"a\":\"\u00e9\ud83d\ude00\x41\"}")`))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{\"a\":\"é😀A\"}" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_InvalidPayload(t *testing.T) {
	t.Parallel()
	if _, err := Extract([]byte(`var x = JSON.parse('{not json}');`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestExtract_ObjectFromEntries(t *testing.T) {
	t.Parallel()
	body := `(function() {var implementors = Object.fromEntries([["alloc",[["impl Send for Vec",1,["Vec"]]]],["core",[{"text":"a]b"}]]]);if (window.register_implementors) {window.register_implementors(implementors);}})()`
	got, err := Extract([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	want := `[["alloc",[["impl Send for Vec",1,["Vec"]]]],["core",[{"text":"a]b"}]]]`
	if string(got) != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"empty", "   "},
		{"no payload", "console.log('hi')"},
		{"unterminated parse", "JSON.parse('{\"a\":1}"},
		{"unbalanced entries", "Object.fromEntries([[\"a\", []]"},
		{"bad escape", `JSON.parse('\uZZZZ')`},
		{"parse of non-JSON", `JSON.parse('{"a": [1,')`},
		{"truncated plain JSON", `{"a": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Extract([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Extract(nil); !errors.Is(err, ErrNoPayload) {
		t.Errorf("expected ErrNoPayload, got %v", err)
	}
}

func TestPageKey(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"implementors/core/fmt/trait.Debug.js":      "implementors/core/fmt/trait.Debug",
		"/type.impl/alloc/vec/struct.Vec.js.zst":    "type.impl/alloc/vec/struct.Vec",
		"trait.impl/serde/ser/trait.Serialize.json": "trait.impl/serde/ser/trait.Serialize",
		"implementors/core/marker/trait.Send":       "implementors/core/marker/trait.Send",
	}
	for in, want := range tests {
		if got := PageKey(in); got != want {
			t.Errorf("PageKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDocPath(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"implementors/core/fmt/trait.Debug.js": "core/fmt/trait.Debug",
		"type.impl/alloc/vec/struct.Vec":       "alloc/vec/struct.Vec",
		"mycrate/trait.Foo":                    "mycrate/trait.Foo",
	}
	for in, want := range tests {
		if got := DocPath(in); got != want {
			t.Errorf("DocPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPageURL(t *testing.T) {
	t.Parallel()
	got := PageURL("https://docs.example/", "type.impl/alloc/vec/struct.Vec.js")
	if got != "https://docs.example/alloc/vec/struct.Vec.html" {
		t.Errorf("got %q", got)
	}
}
