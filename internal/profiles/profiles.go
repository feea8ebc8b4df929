package profiles

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrProfileNotFound is returned when no profile matches the identifier.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the structured subject profile the task agents operate on.
type Profile struct {
	ID   string         `json:"id" yaml:"id"`
	URL  string         `json:"url" yaml:"url"`
	Data map[string]any `json:"profile" yaml:"profile"`
}

// Name returns the display name carried by the profile data, if any.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if v, ok := p.Data["name"].(string); ok {
		return v
	}
	return ""
}

// Empty reports whether the profile carries no data. An empty profile is still
// a successful fetch.
func (p *Profile) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// Provider fetches subject profiles by URL or slug.
type Provider interface {
	Fetch(ctx context.Context, identifier string) (*Profile, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, identifier string) (*Profile, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context, identifier string) (*Profile, error) {
	return f(ctx, identifier)
}

// NotFoundError carries the identifiers that could have been meant.
type NotFoundError struct {
	Identifier  string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("profile %q not found", e.Identifier)
	}
	return fmt.Sprintf("profile %q not found, try one of: %s", e.Identifier, strings.Join(e.Suggestions, ", "))
}

// Hint is the user-facing part of the error.
func (e *NotFoundError) Hint() string {
	if len(e.Suggestions) == 0 {
		return "not found"
	}
	return "not found, try one of: " + strings.Join(e.Suggestions, ", ")
}

func (e *NotFoundError) Is(target error) bool { return target == ErrProfileNotFound }

var profileURLPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]*?/in/([a-z0-9][a-z0-9_.%-]*)/?`)

// ExtractURL returns the first profile URL found in text.
func ExtractURL(text string) (string, bool) {
	m := profileURLPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.TrimRight(m, ".,;:!?)"), true
}

// Slug normalises a profile URL or bare identifier to a catalog key.
func Slug(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if m := profileURLPattern.FindStringSubmatch(identifier); len(m) == 2 {
		return strings.ToLower(strings.TrimRight(m[1], ".,;:!?)"))
	}
	return strings.ToLower(strings.Trim(identifier, "/"))
}
