package sha256

import "testing"

func TestHasherHash(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash([]byte("hotel_name\n"))
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got != h.Hash([]byte("hotel_name\n")) {
		t.Fatal("expected deterministic digest")
	}
	if got == h.Hash([]byte("hotel_name\r\n")) {
		t.Fatal("expected different inputs to differ")
	}
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h.Hash(nil) != empty {
		t.Fatalf("unexpected digest for empty input: %s", h.Hash(nil))
	}
}

func TestHasherETag(t *testing.T) {
	t.Parallel()

	tag := New().ETag([]byte("x"))
	if tag[0] != '"' || tag[len(tag)-1] != '"' || len(tag) != 66 {
		t.Fatalf("unexpected etag %s", tag)
	}
}
