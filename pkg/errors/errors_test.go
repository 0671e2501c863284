package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WithKind(KindDownload, nil, "context") != nil {
		t.Error("WithKind(nil) should return nil")
	}
}

func TestKindOf(t *testing.T) {
	base := New(KindExtraction, "entry not found")
	wrapped := Wrap(base, "extract")

	if got := KindOf(wrapped); got != KindExtraction {
		t.Errorf("KindOf = %s, want %s", got, KindExtraction)
	}
	if got := KindOf(fmt.Errorf("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want %s", got, KindInternal)
	}
}

func TestIs_SearchesChain(t *testing.T) {
	inner := New(KindDecompression, "bad gzip header")
	outer := WithKind(KindAcquisition, inner, "all sources failed")

	if !Is(outer, KindAcquisition) {
		t.Error("expected outer kind to match")
	}
	if !Is(outer, KindDecompression) {
		t.Error("expected inner kind to match")
	}
	if Is(outer, KindPush) {
		t.Error("unexpected match for push")
	}
}

func TestError_MessageAndDetail(t *testing.T) {
	cause := errors.New("exit status 1")
	err := WithDetail(KindRender, cause, "render failed", "syntax error at line 3")

	msg := err.Error()
	for _, want := range []string{"render failed", "exit status 1", "syntax error at line 3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if got := DetailOf(Wrap(err, "generate")); got != "syntax error at line 3" {
		t.Errorf("DetailOf = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable with errors.Is")
	}
}
