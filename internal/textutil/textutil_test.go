package textutil

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Íþróttir", "ithrottir"},
		{"ÍÞRÓTTIR", "ithrottir"},
		{"Ærir Ðórður", "aerir dordur"},
		{"Café Crème", "cafe creme"},
		{"already plain", "already plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeEntities(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"Tom &amp;amp; Jerry", "Tom & Jerry"},
		{"&quot;Hæ&quot; &#8211; bæ", "\"Hæ\" – bæ"},
		{"no entities", "no entities"},
	}
	for _, tt := range tests {
		if got := DecodeEntities(tt.in); got != tt.want {
			t.Errorf("DecodeEntities(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>Fyrsta</p><p>Önnur &amp; þriðja</p>", "Fyrsta Önnur & þriðja"},
		{"&lt;b&gt;Feitt&lt;/b&gt; letur", "Feitt letur"},
		{"  margar \n\t  bil  ", "margar bil"},
		{"<script>alert(1)</script>Texti", "Texti"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHost(t *testing.T) {
	if got := Host("https://WWW.DV.is:443/frett/1"); got != "www.dv.is" {
		t.Errorf("expected 'www.dv.is', got %q", got)
	}
	if got := BareHost("https://WWW.DV.is/frett/1"); got != "dv.is" {
		t.Errorf("expected 'dv.is', got %q", got)
	}
	if got := BareHost("https://eyjan.dv.is/"); got != "eyjan.dv.is" {
		t.Errorf("expected 'eyjan.dv.is', got %q", got)
	}
	if got := Host("not a url"); got != "" {
		t.Errorf("expected empty host, got %q", got)
	}
	if got := Host("::"); got != "" {
		t.Errorf("expected empty host for unparseable input, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	if got := Truncate("hello world foo", 13); got != "hello world…" {
		t.Errorf("expected cut at word boundary, got %q", got)
	}
	if got := Truncate("þþþþþþ", 3); got != "þþþ…" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
}
