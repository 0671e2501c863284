package content

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattryanharris/where-is-matt/pkg/duration"
)

const (
	DefaultTitle        = "Where's Matt?"
	DefaultMessageLimit = 20
	DefaultDetailLimit  = 40

	// Unavailable is shown when there is no status to display.
	Unavailable = "Unavailable"

	titleFont   = "5x8"
	messageFont = "6x13"
	detailFont  = "5x8"
	textColor   = "#fff"
	iconSize    = 16
)

// DefaultAccent is the detail color when no accent code matches.
const DefaultAccent = "#0ff"

var accents = map[string]string{
	"A":      "#4da6ff",
	"E":      "#ffd700",
	"coffee": "#D2691E",
}

// AccentColor maps a status color code to a display color.
func AccentColor(code string) string {
	if c, ok := accents[code]; ok {
		return c
	}
	return DefaultAccent
}

type iconRule struct {
	keyword string
	icon    string
}

// Matched in order; first hit wins.
var iconRules = []iconRule{
	{"Coffee", "coffee"},
	{"Walking", "walk"},
	{"On Train", "train"},
	{"Home", "home"},
	{"Office", "work"},
}

// MatchIcon returns the icon name for a message, if any keyword matches.
// Matching is case-sensitive.
func MatchIcon(message string) (string, bool) {
	for _, r := range iconRules {
		if strings.Contains(message, r.keyword) {
			return r.icon, true
		}
	}
	return "", false
}

// IconSource supplies PNG data for an icon name.
type IconSource interface {
	Icon(name string) ([]byte, bool)
}

// DirIcons loads "<name>.png" from a directory. Missing files are not an
// error; the icon is simply left out.
type DirIcons string

func (d DirIcons) Icon(name string) ([]byte, bool) {
	if d == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(string(d), name+".png"))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

//go:embed icons/*.png
var bundledIcons embed.FS

// DefaultIcons serves the icons built into the binary.
func DefaultIcons() IconSource {
	return embeddedIcons{}
}

type embeddedIcons struct{}

func (embeddedIcons) Icon(name string) ([]byte, bool) {
	data, err := bundledIcons.ReadFile("icons/" + name + ".png")
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// IconChain asks each source in turn; the first one that has the icon wins.
type IconChain []IconSource

func (c IconChain) Icon(name string) ([]byte, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if data, ok := src.Icon(name); ok {
			return data, true
		}
	}
	return nil, false
}

// MapIcons serves icons from memory.
type MapIcons map[string][]byte

func (m MapIcons) Icon(name string) ([]byte, bool) {
	data, ok := m[name]
	return data, ok && len(data) > 0
}

// Status is what the display shows.
type Status struct {
	Message    string
	Detail     string
	Color      string
	TargetTime *time.Time
}

// Generator turns a status into a render script.
type Generator struct {
	Title        string
	MessageLimit int
	DetailLimit  int
	Icons        IconSource
	Now          func() time.Time
}

// NewGenerator returns a generator with the default title and limits.
func NewGenerator(icons IconSource) *Generator {
	return &Generator{
		Title:        DefaultTitle,
		MessageLimit: DefaultMessageLimit,
		DetailLimit:  DefaultDetailLimit,
		Icons:        icons,
		Now:          time.Now,
	}
}

// Script renders status as a Starlark script. A nil status shows
// Unavailable.
func (g *Generator) Script(status *Status) string {
	return Serialize(g.Document(status))
}

// Document builds the render tree. A detail line switches to the
// three-line layout; a countdown without detail shows the time remaining.
func (g *Generator) Document(status *Status) Document {
	var s Status
	if status != nil {
		s = *status
	}

	message := clean(s.Message)
	if message == "" {
		message = Unavailable
	}
	detail := clean(s.Detail)
	if detail == "" && s.TargetTime != nil {
		detail = duration.FormatRemaining(*s.TargetTime, g.now())
	}

	var doc Document
	var row []Node
	if name, ok := MatchIcon(message); ok && g.Icons != nil {
		if data, ok := g.Icons.Icon(name); ok {
			doc.Icons = append(doc.Icons, Icon{Name: name, Data: data})
			row = append(row, Image{Icon: name, Width: iconSize, Height: iconSize}, Box{Width: 2})
		}
	}
	row = append(row, Text{Content: truncate(message, g.limit(g.MessageLimit, DefaultMessageLimit)), Font: messageFont, Color: textColor})

	title := g.Title
	if title == "" {
		title = DefaultTitle
	}

	children := []Node{Text{Content: title, Font: titleFont, Color: textColor}}
	if detail != "" {
		children = append(children,
			Box{Height: 1},
			Row{MainAlign: "left", CrossAlign: "center", Children: row},
			Box{Height: 1},
			Text{Content: truncate(detail, g.limit(g.DetailLimit, DefaultDetailLimit)), Font: detailFont, Color: AccentColor(s.Color)},
		)
	} else {
		children = append(children,
			Box{Height: 2},
			Row{MainAlign: "left", CrossAlign: "center", Children: row},
		)
	}

	doc.Root = Root{Child: Column{MainAlign: "left", CrossAlign: "left", Children: children}}
	return doc
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Generator) limit(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// clean folds line breaks and tabs into spaces and trims the result.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
