package theme

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultName is the built-in theme used when no override is provided.
const DefaultName = "kong-light"

// Token represents a semantic color slot of the console output.
type Token string

const (
	ColorTextPrimary Token = "text.primary"
	ColorTextMuted   Token = "text.muted"
	ColorBorder      Token = "border"
	ColorPrimary     Token = "primary"
	ColorAccent      Token = "accent"
	ColorSuccess     Token = "success"
	ColorInfo        Token = "info"
	ColorWarning     Token = "warning"
	ColorDanger      Token = "danger"
)

// Color stores light and dark variants for adaptive rendering.
type Color struct {
	Light string
	Dark  string
}

// Adaptive converts the color into a lipgloss adaptive color.
func (c Color) Adaptive() lipgloss.AdaptiveColor {
	light, dark := strings.TrimSpace(c.Light), strings.TrimSpace(c.Dark)
	switch {
	case light == "" && dark == "":
		return lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	case light == "":
		light = dark
	case dark == "":
		dark = light
	}
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

// Palette represents a concrete theme.
type Palette struct {
	Name        string
	DisplayName string
	Colors      map[Token]Color
}

// Color returns a color for the provided token, falling back to the default palette.
func (p Palette) Color(token Token) Color {
	if c, ok := p.Colors[token]; ok {
		return c
	}
	if c, ok := palettes[DefaultName].Colors[token]; ok {
		return c
	}
	return Color{}
}

// ForegroundStyle returns a style of r with the foreground set to the
// requested token. A nil renderer uses the lipgloss default.
func (p Palette) ForegroundStyle(r *lipgloss.Renderer, token Token) lipgloss.Style {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	return r.NewStyle().Foreground(p.Color(token).Adaptive())
}

type contextKey struct{}

var themeKey contextKey

// ContextWithPalette stores the palette on the context.
func ContextWithPalette(ctx context.Context, p Palette) context.Context {
	return context.WithValue(ctx, themeKey, p)
}

// FromContext returns the palette stored on the context or the default palette.
func FromContext(ctx context.Context) Palette {
	if ctx != nil {
		if p, ok := ctx.Value(themeKey).(Palette); ok {
			return p
		}
	}
	return palettes[DefaultName]
}

var palettes = map[string]Palette{}

func init() {
	for _, p := range []Palette{
		derive("kong-light", "Kong Light", "#000F06", "#CCFF00", false),
		derive("kong-dark", "Kong Dark", "#FFFFFF", "#CCFF00", true),
		derive("ocean", "Ocean", "#0B2545", "#13A8C9", false),
	} {
		palettes[p.Name] = p
	}
}

// Available returns the list of registered theme IDs (sorted).
func Available() []string {
	keys := make([]string, 0, len(palettes))
	for k := range palettes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the palette with the provided name.
func Get(name string) (Palette, bool) {
	p, ok := palettes[sanitizeName(name)]
	return p, ok
}

// Flag is a pflag.Value implementation for theme IDs.
type Flag struct {
	value string
}

// NewFlag returns a Flag with the provided default value.
func NewFlag(defaultValue string) *Flag {
	name := sanitizeName(defaultValue)
	if _, ok := palettes[name]; !ok {
		name = DefaultName
	}
	return &Flag{value: name}
}

// String implements pflag.Value.
func (f *Flag) String() string {
	if f == nil {
		return DefaultName
	}
	return f.value
}

// Set implements pflag.Value.
func (f *Flag) Set(v string) error {
	name := sanitizeName(v)
	if name == "" {
		name = DefaultName
	}
	if _, ok := palettes[name]; !ok {
		return fmt.Errorf("invalid color theme %q, must be one of %v", v, Available())
	}
	f.value = name
	return nil
}

// Type implements pflag.Value.
func (f *Flag) Type() string {
	return "string"
}

// derive builds a palette from a text color and an accent. Status colors are
// blended from the accent so every theme stays readable on both backgrounds.
func derive(name, display, text, accent string, dark bool) Palette {
	text, accent = normalizeHex(text), normalizeHex(accent)
	shade := darkenHex
	if dark {
		shade = lightenHex
	}

	return Palette{
		Name:        name,
		DisplayName: display,
		Colors: map[Token]Color{
			ColorTextPrimary: singleColor(text),
			ColorTextMuted:   {Light: lightenHex(text, 0.45), Dark: darkenHex(text, 0.35)},
			ColorBorder:      {Light: lightenHex(text, 0.75), Dark: darkenHex(text, 0.7)},
			ColorPrimary:     singleColor(text),
			ColorAccent:      singleColor(shade(accent, 0.1)),
			ColorSuccess:     singleColor(blendHex(accent, "#2E9E44", 0.6)),
			ColorInfo:        singleColor(blendHex(accent, "#3572C6", 0.7)),
			ColorWarning:     singleColor(blendHex(accent, "#E0A100", 0.7)),
			ColorDanger:      singleColor(blendHex(accent, "#D2362B", 0.85)),
		},
	}
}

func sanitizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func singleColor(hex string) Color {
	h := normalizeHex(hex)
	return Color{Light: h, Dark: h}
}

func normalizeHex(hex string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(hex, "#"))
	switch len(trimmed) {
	case 0:
		return ""
	case 3:
		var b strings.Builder
		b.WriteString("#")
		for _, r := range trimmed {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		return strings.ToUpper(b.String())
	default:
		if len(trimmed) > 6 {
			trimmed = trimmed[:6]
		}
		return "#" + strings.ToUpper(trimmed)
	}
}

func blendHex(from, to string, amount float64) string {
	a, err := colorful.Hex(normalizeHex(from))
	if err != nil {
		return normalizeHex(to)
	}
	b, err := colorful.Hex(normalizeHex(to))
	if err != nil {
		return normalizeHex(from)
	}
	return strings.ToUpper(a.BlendLab(b, clampFloat(amount, 0, 1)).Clamped().Hex())
}

func lightenHex(hex string, amount float64) string {
	return blendHex(hex, "#FFFFFF", amount)
}

func darkenHex(hex string, amount float64) string {
	return blendHex(hex, "#000000", amount)
}

func clampFloat(val, minVal, maxVal float64) float64 {
	return max(minVal, min(val, maxVal))
}
