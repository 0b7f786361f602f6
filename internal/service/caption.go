package service

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maheshrc27/crosspost/internal/models"
)

// Caption is the post text shaped for one platform.
type Caption struct {
	Text  string
	Title string   // YouTube only
	Tags  []string // YouTube only, without '#'
}

type captionLimit struct {
	text    int
	maxTags int
}

var captionLimits = map[models.Platform]captionLimit{
	models.PlatformFacebook:  {text: 63206},
	models.PlatformInstagram: {text: 2200, maxTags: 30},
	models.PlatformTwitter:   {text: 280},
	models.PlatformLinkedIn:  {text: 3000},
	models.PlatformYoutube:   {text: 5000},
}

const (
	youtubeTitleLimit = 100
	youtubeTagsBudget = 500
	ellipsis          = "…"
)

// FormatCaption applies the hashtag and length rules of platform.
func FormatCaption(platform models.Platform, text, title string, hashtags []string) Caption {
	limit := captionLimits[platform]
	tags := normalizeHashtags(hashtags)
	if limit.maxTags > 0 && len(tags) > limit.maxTags {
		tags = tags[:limit.maxTags]
	}
	text = strings.TrimSpace(text)

	if platform == models.PlatformYoutube {
		return Caption{
			Text:  truncate(text, limit.text),
			Title: youtubeTitle(title, text),
			Tags:  youtubeTags(tags),
		}
	}

	return Caption{Text: composeCaption(text, tags, limit.text)}
}

// normalizeHashtags strips '#' and whitespace and drops empty and repeated tags.
func normalizeHashtags(hashtags []string) []string {
	seen := make(map[string]struct{}, len(hashtags))
	out := make([]string, 0, len(hashtags))
	for _, raw := range hashtags {
		tag := strings.TrimLeft(strings.TrimSpace(raw), "#")
		tag = strings.Join(strings.Fields(tag), "")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func hashtagLine(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = "#" + tag
	}
	return strings.Join(parts, " ")
}

func composeCaption(text string, tags []string, limit int) string {
	line := hashtagLine(tags)
	if line == "" {
		return truncate(text, limit)
	}
	if text == "" {
		return truncate(line, limit)
	}

	room := limit - utf8.RuneCountInString(line) - 2
	if room <= 0 {
		// tags alone do not fit next to any text
		return truncate(text, limit)
	}
	return truncate(text, room) + "\n\n" + line
}

func youtubeTitle(title, text string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title, _, _ = strings.Cut(text, "\n")
		title = strings.TrimSpace(title)
	}
	if title == "" {
		title = "Untitled video"
	}
	return truncate(title, youtubeTitleLimit)
}

func youtubeTags(tags []string) []string {
	var out []string
	used := 0
	for _, tag := range tags {
		n := utf8.RuneCountInString(tag)
		if used+n > youtubeTagsBudget {
			break
		}
		used += n
		out = append(out, tag)
	}
	return out
}

// truncate cuts s to at most limit runes, ending in an ellipsis when cut.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return string(runes[:1])
	}
	return strings.TrimRightFunc(string(runes[:limit-1]), unicode.IsSpace) + ellipsis
}
