package importer

import (
	"testing"
)

func TestExtractHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://github.com/login", "github.com"},
		{"http://www.Example.com:8080/path?q=1", "example.com"},
		{"https://user@mail.example.org/", "mail.example.org"},
		{"example.net", "example.net"},
		{"  https://a.example#frag ", "a.example"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractHostname(tt.in); got != tt.want {
			t.Errorf("extractHostname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeHTMLEntities(t *testing.T) {
	got := DecodeHTMLEntities("a &amp; b &lt;c&gt; &quot;d&quot; &#39;e&apos;")
	want := `a & b <c> "d" 'e'`
	if got != want {
		t.Errorf("DecodeHTMLEntities = %q, want %q", got, want)
	}
}

func TestLoginToRecord(t *testing.T) {
	tests := []struct {
		name       string
		in         login
		opts       ParseOptions
		wantReason string
		wantSite   string
		wantNotes  string
	}{
		{
			name:      "url wins over name",
			in:        login{name: "GitHub", urls: []string{"https://github.com/login"}, username: "alice", password: "p"},
			wantSite:  "github.com",
			wantNotes: "URL: https://github.com/login",
		},
		{
			name:     "name when no url",
			in:       login{name: " Home router ", username: "admin", password: "p"},
			wantSite: "Home router",
		},
		{
			name:      "notes, urls and totp",
			in:        login{name: "x", urls: []string{"https://a.example", "https://b.example"}, username: "u", password: "p", totp: "SEED", notes: "hello"},
			opts:      ParseOptions{KeepTOTP: true},
			wantSite:  "a.example",
			wantNotes: "hello\nURL: https://a.example\nURL: https://b.example\nTOTP: SEED",
		},
		{
			name:      "totp dropped by default",
			in:        login{name: "x", username: "u", password: "p", totp: "SEED"},
			wantSite:  "x",
			wantNotes: "",
		},
		{name: "no username", in: login{name: "x", username: "  ", password: "p"}, wantReason: "missing username"},
		{name: "no password", in: login{name: "x", username: "u"}, wantReason: "missing password"},
		{name: "no site", in: login{username: "u", password: "p"}, wantReason: "missing name and URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reason := tt.in.toRecord(tt.opts)
			if reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tt.wantReason)
			}
			if reason != "" {
				return
			}
			if rec.Website != tt.wantSite {
				t.Errorf("Website = %q, want %q", rec.Website, tt.wantSite)
			}
			if rec.Notes != tt.wantNotes {
				t.Errorf("Notes = %q, want %q", rec.Notes, tt.wantNotes)
			}
			if rec.ID != "" {
				t.Error("ids are assigned by the vault")
			}
		})
	}
}

func TestGetParser(t *testing.T) {
	for _, s := range ValidSources() {
		p, err := GetParser(Source(s))
		if err != nil {
			t.Fatalf("GetParser(%q) failed: %v", s, err)
		}
		if string(p.Source()) != s {
			t.Errorf("Source() = %q, want %q", p.Source(), s)
		}
	}

	if _, err := GetParser("keepass"); err == nil {
		t.Error("expected error for unsupported source")
	}
}
