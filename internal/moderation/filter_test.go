package moderation

import (
	"context"
	"testing"
)

func TestFilterCensorsCaseInsensitively(t *testing.T) {
	f := NewFilter([]string{"darn", "heck"})

	res := f.Review(context.Background(), "Darn it, what the HECK")
	if res.Status != StatusAccepted {
		t.Fatalf("filter must always accept, got %v", res.Status)
	}
	if res.Text != "**** it, what the ****" {
		t.Fatalf("unexpected censored text: %q", res.Text)
	}
}

func TestFilterRepeatedOccurrences(t *testing.T) {
	f := NewFilter([]string{"no"})
	res := f.Review(context.Background(), "no no NO")
	if res.Text != "** ** **" {
		t.Fatalf("unexpected censored text: %q", res.Text)
	}
}

func TestFilterMasksOneStarPerCharacter(t *testing.T) {
	// Multi-byte words get one asterisk per rune, not per byte.
	f := NewFilter([]string{"дурак"})
	res := f.Review(context.Background(), "ну ты дурак")
	if res.Text != "ну ты *****" {
		t.Fatalf("unexpected censored text: %q", res.Text)
	}
}

func TestFilterCleanText(t *testing.T) {
	f := NewFilter([]string{"darn", "", "  "})
	res := f.Review(context.Background(), "hello there")
	if res.Status != StatusAccepted || res.Text != "hello there" {
		t.Fatalf("clean text must pass unchanged: %+v", res)
	}
}

func TestFilterEmptyBlocklist(t *testing.T) {
	f := NewFilter(nil)
	res := f.Review(context.Background(), "anything goes")
	if res.Status != StatusAccepted || res.Text != "anything goes" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
