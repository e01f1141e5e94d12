package attachment

import (
	"reflect"
	"testing"
)

func TestEncodeWithoutFilesReturnsText(t *testing.T) {
	if got := Encode("hello", nil); got != "hello" {
		t.Fatalf("expected text unchanged, got %q", got)
	}
}

func TestEncodeSingleFile(t *testing.T) {
	got := Encode("Hello", []File{{Filename: "a.txt", Content: "X"}})
	want := "Hello\n\n[Attached File: a.txt]\nX\n[End Attachment]"
	if got != want {
		t.Fatalf("encode mismatch:\n got=%q\nwant=%q", got, want)
	}
}

func TestDecodeWithoutBlocksKeepsRaw(t *testing.T) {
	raw := "  plain text with [brackets]  \n"
	got := Decode(raw)
	if got.CleanText != raw {
		t.Fatalf("expected raw text untouched, got %q", got.CleanText)
	}
	if len(got.Attachments) != 0 {
		t.Fatalf("expected no attachments, got %#v", got.Attachments)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		files []File
	}{
		{"single", "Hello", []File{{Filename: "a.txt", Content: "X"}}},
		{"multiple in order", "look at these", []File{
			{Filename: "one.md", Content: "# heading\nbody"},
			{Filename: "two.csv", Content: "a,b\n1,2"},
			{Filename: "three.py", Content: "print('hi')"},
		}},
		{"empty text", "", []File{{Filename: "notes.txt", Content: "just the file"}}},
		{"filename with spaces", "see", []File{{Filename: "my report (final).txt", Content: "done"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decode(Encode(tc.text, tc.files))
			if got.CleanText != tc.text {
				t.Fatalf("clean text mismatch: got=%q want=%q", got.CleanText, tc.text)
			}
			if !reflect.DeepEqual(got.Attachments, tc.files) {
				t.Fatalf("attachments mismatch: got=%#v want=%#v", got.Attachments, tc.files)
			}
		})
	}
}

func TestDecodeTrimsBodies(t *testing.T) {
	raw := "hi\n\n[Attached File: a.txt]\n\n  padded  \n\n[End Attachment]"
	got := Decode(raw)
	if len(got.Attachments) != 1 || got.Attachments[0].Content != "padded" {
		t.Fatalf("expected trimmed body, got %#v", got.Attachments)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	got := Decode(Encode("x", []File{{Filename: "empty.txt", Content: ""}}))
	want := []File{{Filename: "empty.txt", Content: ""}}
	if !reflect.DeepEqual(got.Attachments, want) {
		t.Fatalf("got=%#v want=%#v", got.Attachments, want)
	}
	if got.CleanText != "x" {
		t.Fatalf("unexpected clean text %q", got.CleanText)
	}
}

func TestDecodeBlockInTheMiddle(t *testing.T) {
	raw := "before\n[Attached File: m.txt]\nmid\n[End Attachment]\nafter"
	got := Decode(raw)
	if got.CleanText != "before\n\nafter" {
		t.Fatalf("unexpected clean text %q", got.CleanText)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Filename != "m.txt" {
		t.Fatalf("unexpected attachments %#v", got.Attachments)
	}
}

func TestDecodeUnterminatedBlockIsText(t *testing.T) {
	raw := "hi\n\n[Attached File: a.txt]\nno end marker"
	got := Decode(raw)
	if got.CleanText != raw || len(got.Attachments) != 0 {
		t.Fatalf("expected unterminated block to stay text, got %#v", got)
	}
}
