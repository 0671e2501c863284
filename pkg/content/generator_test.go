package content

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

var contentLiteral = regexp.MustCompile(`content = ("(?:[^"\\]|\\.)*")`)

// texts returns the decoded content of every render.Text in script.
func texts(t *testing.T, script string) []string {
	t.Helper()
	var out []string
	for _, m := range contentLiteral.FindAllStringSubmatch(script, -1) {
		s, err := strconv.Unquote(m[1])
		if err != nil {
			t.Fatalf("content literal %s does not unquote: %v", m[1], err)
		}
		out = append(out, s)
	}
	return out
}

func TestScript_TwoLineWithIcon(t *testing.T) {
	g := NewGenerator(MapIcons{"coffee": []byte("PNGDATA")})

	script := g.Script(&Status{Message: "Coffee"})

	got := texts(t, script)
	if len(got) != 2 || got[0] != DefaultTitle || got[1] != "Coffee" {
		t.Fatalf("texts = %q", got)
	}
	for _, want := range []string{
		`load("encoding/base64.star", "base64")`,
		`ICON_COFFEE = base64.decode("UE5HREFUQQ==")`,
		"src = ICON_COFFEE,",
		"render.Box(width = 2)",
		"render.Box(height = 2)",
		`font = "6x13",`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "render.Box(height = 1)") {
		t.Error("two-line layout should not use the three-line spacing")
	}
}

func TestScript_ThreeLineWithAccent(t *testing.T) {
	g := NewGenerator(nil)

	script := g.Script(&Status{Message: "On Train", Detail: "Union Station", Color: "A"})

	got := texts(t, script)
	want := []string{DefaultTitle, "On Train", "Union Station"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("texts = %q, want %q", got, want)
	}
	if strings.Count(script, "render.Box(height = 1)") != 2 {
		t.Errorf("expected two single-pixel spacers:\n%s", script)
	}
	if !strings.Contains(script, `color = "#4da6ff",`) {
		t.Errorf("detail line missing accent color:\n%s", script)
	}
	if strings.Contains(script, "render.Image(") {
		t.Error("no icon source, so no image expected")
	}
}

func TestScript_QuotesRoundTrip(t *testing.T) {
	g := NewGenerator(nil)
	g.MessageLimit = 100
	g.DetailLimit = 100

	msg := `He said "hi" \ bye`
	detail := "line one\nline\ttwo"
	script := g.Script(&Status{Message: msg, Detail: detail})

	got := texts(t, script)
	if len(got) != 3 {
		t.Fatalf("texts = %q", got)
	}
	if got[1] != msg {
		t.Errorf("message = %q, want %q", got[1], msg)
	}
	if got[2] != "line one line two" {
		t.Errorf("detail = %q", got[2])
	}
}

func TestScript_Truncation(t *testing.T) {
	g := NewGenerator(nil)

	long := "  " + strings.Repeat("x", 25) + "  "
	detail := strings.Repeat("é", 50)
	got := texts(t, g.Script(&Status{Message: long, Detail: detail}))

	if got[1] != strings.Repeat("x", 20) {
		t.Errorf("message = %q", got[1])
	}
	if got[2] != strings.Repeat("é", 40) {
		t.Errorf("detail = %q (%d runes)", got[2], len([]rune(got[2])))
	}
}

func TestScript_Unavailable(t *testing.T) {
	g := NewGenerator(nil)

	for _, s := range []*Status{nil, {Message: "   "}} {
		got := texts(t, g.Script(s))
		if len(got) != 2 || got[1] != Unavailable {
			t.Errorf("texts = %q", got)
		}
	}
}

func TestScript_MissingIconSkipped(t *testing.T) {
	g := NewGenerator(DirIcons(t.TempDir()))

	script := g.Script(&Status{Message: "Walking to the office"})
	if strings.Contains(script, "base64") || strings.Contains(script, "render.Image(") {
		t.Errorf("missing icon should be skipped:\n%s", script)
	}
}

func TestScript_CountdownShowsRemaining(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	target := now.Add(65 * time.Minute)
	g := NewGenerator(nil)
	g.Now = func() time.Time { return now }

	got := texts(t, g.Script(&Status{Message: "Almost home", TargetTime: &target}))
	if len(got) != 3 || got[2] != "1h 5m" {
		t.Errorf("texts = %q", got)
	}

	got = texts(t, g.Script(&Status{Message: "Almost home", Detail: "Platform 2", TargetTime: &target}))
	if got[2] != "Platform 2" {
		t.Errorf("explicit detail should win, got %q", got[2])
	}
}

func TestDirIcons(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "home.png"), []byte("png"), 0644)

	icons := DirIcons(dir)
	if data, ok := icons.Icon("home"); !ok || string(data) != "png" {
		t.Errorf("Icon(home) = %q, %v", data, ok)
	}
	if _, ok := icons.Icon("train"); ok {
		t.Error("Icon(train) should be missing")
	}
	if _, ok := DirIcons("").Icon("home"); ok {
		t.Error("empty dir should serve nothing")
	}
}

func TestDefaultIcons(t *testing.T) {
	icons := DefaultIcons()
	for _, r := range iconRules {
		data, ok := icons.Icon(r.icon)
		if !ok || !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
			t.Errorf("bundled icon %q missing or not a PNG", r.icon)
		}
	}
	if _, ok := icons.Icon("spaceship"); ok {
		t.Error("unknown icon should be missing")
	}
}

func TestScript_BundledIconForCoffee(t *testing.T) {
	g := NewGenerator(IconChain{DirIcons(filepath.Join(t.TempDir(), "missing")), DefaultIcons()})

	script := g.Script(&Status{Message: "Coffee"})

	if got := texts(t, script); len(got) != 2 || got[1] != "Coffee" {
		t.Fatalf("texts = %q", got)
	}
	if !strings.Contains(script, "src = ICON_COFFEE,") {
		t.Fatalf("script has no coffee icon:\n%s", script)
	}
	m := regexp.MustCompile(`ICON_COFFEE = base64.decode\("([^"]+)"\)`).FindStringSubmatch(script)
	if m == nil {
		t.Fatalf("icon constant missing:\n%s", script)
	}
	data, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("icon payload is not a PNG: %v", err)
	}
}

func TestIconChain_DirOverridesBundled(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "home.png"), []byte("custom"), 0644)

	icons := IconChain{DirIcons(dir), nil, DefaultIcons()}
	if data, _ := icons.Icon("home"); string(data) != "custom" {
		t.Errorf("Icon(home) = %q, want the directory copy", data)
	}
	if data, ok := icons.Icon("train"); !ok || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("Icon(train) should fall back to the bundled icon")
	}
	if _, ok := (IconChain{}).Icon("home"); ok {
		t.Error("empty chain should serve nothing")
	}
}

func TestMatchIcon(t *testing.T) {
	tests := []struct {
		message string
		want    string
		ok      bool
	}{
		{"Coffee", "coffee", true},
		{"Walking to Coffee", "coffee", true},
		{"Walking home", "walk", true},
		{"On Train", "train", true},
		{"Home", "home", true},
		{"At the Office", "work", true},
		{"coffee", "", false},
		{"Lunch", "", false},
	}

	for _, tt := range tests {
		got, ok := MatchIcon(tt.message)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MatchIcon(%q) = %q, %v; want %q, %v", tt.message, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAccentColor(t *testing.T) {
	tests := map[string]string{
		"A":      "#4da6ff",
		"E":      "#ffd700",
		"coffee": "#D2691E",
		"":       DefaultAccent,
		"a":      DefaultAccent,
	}
	for code, want := range tests {
		if got := AccentColor(code); got != want {
			t.Errorf("AccentColor(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestSerialize_Structure(t *testing.T) {
	doc := Document{Root: Root{Child: Column{
		MainAlign: "left",
		Children:  []Node{Text{Content: "x"}, Box{Width: 3, Height: 4}},
	}}}

	script := Serialize(doc)
	if !strings.HasPrefix(script, `load("render.star", "render")`) {
		t.Errorf("missing render load:\n%s", script)
	}
	for _, want := range []string{"def main(ctx):", "return render.Root(", "child = render.Column(", `main_align = "left",`, "render.Box(width = 3, height = 4),"} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "cross_align") {
		t.Error("empty cross_align should be omitted")
	}
}
