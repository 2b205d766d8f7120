package domain

import (
	"regexp"
	"strings"
	"time"
)

// keyPrefixPattern is the user-visible contract for project key prefixes.
// Formatted item keys are "<PREFIX>-<N>" with N a positive integer.
var keyPrefixPattern = regexp.MustCompile(`^[A-Z0-9_]{1,10}$`)

// keyPattern validates a fully formatted work item key.
var keyPattern = regexp.MustCompile(`^[A-Z0-9_]{1,10}-[1-9][0-9]*$`)

// Project owns the per-project issue counter and key prefix. The counter is
// monotone and never reused or decremented; the prefix is frozen once any key
// has been minted against it.
type Project struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	Description  string     `json:"description"`
	KeyPrefix    string     `json:"key_prefix"`
	IssueCounter int64      `json:"issue_counter"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at"`
}

// NewProject constructs a project. An empty keyPrefix is allowed; the
// allocator derives and persists a fallback on first allocation.
func NewProject(id, tenantID, name, description, keyPrefix string, now time.Time) (Project, error) {
	id = strings.TrimSpace(id)
	tenantID = strings.TrimSpace(tenantID)
	name = strings.TrimSpace(name)
	keyPrefix = strings.ToUpper(strings.TrimSpace(keyPrefix))

	if id == "" {
		return Project{}, ErrInvalidID
	}
	if tenantID == "" {
		return Project{}, ErrInvalidTenant
	}
	if name == "" {
		return Project{}, ErrInvalidName
	}
	if keyPrefix != "" && !keyPrefixPattern.MatchString(keyPrefix) {
		return Project{}, ErrInvalidKeyPrefix
	}

	return Project{
		ID:          id,
		TenantID:    tenantID,
		Name:        name,
		Slug:        normalizeSlug(name),
		Description: strings.TrimSpace(description),
		KeyPrefix:   keyPrefix,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// Rename renames the project. The key prefix is deliberately untouched:
// renaming must never change already-minted keys.
func (p *Project) Rename(name string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	p.Name = name
	p.Slug = normalizeSlug(name)
	p.UpdatedAt = now.UTC()
	return nil
}

// Archive archives the project.
func (p *Project) Archive(now time.Time) {
	ts := now.UTC()
	p.ArchivedAt = &ts
	p.UpdatedAt = ts
}

// Restore restores the project.
func (p *Project) Restore(now time.Time) {
	p.ArchivedAt = nil
	p.UpdatedAt = now.UTC()
}

// ValidKeyPrefix reports whether prefix satisfies the key prefix contract.
func ValidKeyPrefix(prefix string) bool {
	return keyPrefixPattern.MatchString(prefix)
}

// ValidKey reports whether key is a well-formed "<PREFIX>-<N>" item key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// FallbackKeyPrefix derives a deterministic prefix from a project display
// name: initials of the words when the name has several, otherwise the
// leading alphanumerics of the single word, uppercased and truncated to ten
// characters. Names with nothing usable fall back to "PROJ".
func FallbackKeyPrefix(name string) string {
	words := splitAlphanumericWords(name)
	prefix := ""
	switch {
	case len(words) == 0:
	case len(words) == 1:
		prefix = words[0]
	default:
		for _, word := range words {
			prefix += word[:1]
		}
	}
	prefix = strings.ToUpper(prefix)
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	if !keyPrefixPattern.MatchString(prefix) {
		return "PROJ"
	}
	return prefix
}

// splitAlphanumericWords splits a name into runs of ASCII alphanumerics.
func splitAlphanumericWords(name string) []string {
	words := []string{}
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// normalizeSlug normalizes slug.
func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			prevDash = false
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
