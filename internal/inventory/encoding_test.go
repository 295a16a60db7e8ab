package inventory

import "testing"

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		want     string
		encoding string
	}{
		{
			name:     "plain ascii",
			data:     []byte("hello\n"),
			want:     "hello\n",
			encoding: "utf-8",
		},
		{
			name:     "utf-8 multibyte",
			data:     []byte("héllo wörld"),
			want:     "héllo wörld",
			encoding: "utf-8",
		},
		{
			name:     "utf-8 bom stripped",
			data:     []byte{0xef, 0xbb, 0xbf, 'h', 'i'},
			want:     "hi",
			encoding: "utf-8",
		},
		{
			name:     "utf-16 little endian",
			data:     []byte{0xff, 0xfe, 'h', 0x00, 'i', 0x00},
			want:     "hi",
			encoding: "utf-16",
		},
		{
			name:     "utf-16 big endian",
			data:     []byte{0xfe, 0xff, 0x00, 'h', 0x00, 'i'},
			want:     "hi",
			encoding: "utf-16",
		},
		{
			// 0x93/0x94 are curly quotes in Windows-1252.
			name:     "windows-1252 quotes",
			data:     []byte{0x93, 'o', 'k', 0x94},
			want:     "“ok”",
			encoding: "windows-1252",
		},
		{
			// 0x81 is undefined in Windows-1252, so the chain falls
			// through to Latin-1 where it maps to a C1 control rune.
			name:     "latin-1 fallback",
			data:     []byte{'x', 0x81, 'y'},
			want:     "xy",
			encoding: "latin-1",
		},
		{
			name:     "empty",
			data:     nil,
			want:     "",
			encoding: "utf-8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, encoding := DecodeText(tt.data)
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
			if encoding != tt.encoding {
				t.Errorf("encoding = %q, want %q", encoding, tt.encoding)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
		cut  bool
	}{
		{"shorter than cap", "abc", 10, "abc", false},
		{"exactly at cap", "abc", 3, "abc", false},
		{"over cap", "abcdef", 3, "abc", true},
		{"multibyte boundary", "héllo", 2, "hé", true},
		{"zero cap disables", "abc", 0, "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := TruncateRunes(tt.in, tt.n)
			if got != tt.want || cut != tt.cut {
				t.Errorf("TruncateRunes(%q, %d) = (%q, %v), want (%q, %v)",
					tt.in, tt.n, got, cut, tt.want, tt.cut)
			}
		})
	}
}
