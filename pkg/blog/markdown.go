// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package blog

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// WordsPerMinute is the reading speed used by ReadingTime.
const WordsPerMinute = 200

// DefaultExcerptLength is the excerpt size used when the frontmatter has none.
const DefaultExcerptLength = 200

// ErrInvalidFrontmatter is returned when the YAML header cannot be parsed.
var ErrInvalidFrontmatter = errors.New("invalid frontmatter")

var (
	frontmatterPattern = regexp.MustCompile(`(?s)^---[ \t]*\r?\n(.*?)\r?\n---[ \t]*(?:\r?\n(.*))?$`)
	fencedCode         = regexp.MustCompile("(?s)```.*?```")
	inlineCode         = regexp.MustCompile("`[^`]*`")
	imageLink          = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	textLink           = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	anyLink            = regexp.MustCompile(`\[.*?\]\(.*?\)`)
	headingMarker      = regexp.MustCompile(`(?m)^#+\s+`)
	nonSlugChars       = regexp.MustCompile(`[^a-z0-9_\s-]`)
	whitespaceRun      = regexp.MustCompile(`\s+`)
	dashRun            = regexp.MustCompile(`-+`)
)

// StringList accepts either a YAML sequence or a single comma separated
// scalar.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = compact(items)
	case yaml.ScalarNode:
		*l = compact(strings.Split(node.Value, ","))
	default:
		return fmt.Errorf("tags must be a list or a string")
	}
	return nil
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Frontmatter is the optional YAML header of an uploaded post.
type Frontmatter struct {
	Title   string     `yaml:"title"`
	Date    string     `yaml:"date"`
	Tags    StringList `yaml:"tags"`
	Excerpt string     `yaml:"excerpt"`
}

// ParseFrontmatter splits a markdown document into its YAML header and body.
// A document without a header yields an empty Frontmatter and the whole
// content as body.
func ParseFrontmatter(content string) (*Frontmatter, string, error) {
	match := frontmatterPattern.FindStringSubmatch(content)
	if match == nil {
		return &Frontmatter{}, content, nil
	}

	var fm Frontmatter
	if strings.TrimSpace(match[1]) != "" {
		if err := yaml.Unmarshal([]byte(match[1]), &fm); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
		}
	}
	fm.Title = strings.TrimSpace(fm.Title)
	fm.Date = strings.TrimSpace(fm.Date)
	fm.Excerpt = strings.TrimSpace(fm.Excerpt)
	return &fm, match[2], nil
}

// Slug derives a URL path segment from a title: accents are folded,
// punctuation dropped and whitespace collapsed to single dashes.
func Slug(title string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, strings.ToLower(title))
	if err != nil {
		folded = strings.ToLower(title)
	}
	slug := nonSlugChars.ReplaceAllString(folded, "")
	slug = whitespaceRun.ReplaceAllString(strings.TrimSpace(slug), "-")
	slug = dashRun.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// WordCount counts words outside code.
func WordCount(body string) int {
	text := fencedCode.ReplaceAllString(body, "")
	text = inlineCode.ReplaceAllString(text, "")
	text = strings.NewReplacer("#", "", "*", "", "_", "", "~", "").Replace(text)
	return len(strings.Fields(text))
}

// ReadingTime estimates reading time at WordsPerMinute, rendered as
// "< 1 min", "1 min" or "N min".
func ReadingTime(body string) string {
	text := fencedCode.ReplaceAllString(body, "")
	text = inlineCode.ReplaceAllString(text, "")
	text = imageLink.ReplaceAllString(text, "")
	text = anyLink.ReplaceAllString(text, "")
	text = strings.NewReplacer("#", "", "*", "", "_", "", "~", "").Replace(text)

	minutes := int(math.Ceil(float64(len(strings.Fields(text))) / WordsPerMinute))
	switch {
	case minutes < 1:
		return "< 1 min"
	case minutes == 1:
		return "1 min"
	default:
		return fmt.Sprintf("%d min", minutes)
	}
}

// Excerpt renders the first maxLength characters of body as plain text,
// cut back to a word boundary and suffixed with "..." when truncated.
func Excerpt(body string, maxLength int) string {
	text := fencedCode.ReplaceAllString(body, "")
	text = inlineCode.ReplaceAllString(text, "")
	text = imageLink.ReplaceAllString(text, "")
	text = textLink.ReplaceAllString(text, "$1")
	text = headingMarker.ReplaceAllString(text, "")
	text = strings.NewReplacer("*", "", "_", "", "~", "").Replace(text)
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}

	truncated := string([]rune(text)[:maxLength])
	if i := strings.LastIndex(truncated, " "); i > 0 {
		truncated = truncated[:i]
	}
	return strings.TrimRight(truncated, " \n\t") + "..."
}
