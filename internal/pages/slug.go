package pages

import "strings"

// MaxCustomPages caps how many pages a profile may create.
const MaxCustomPages = 5

// Slugify lowercases name, collapses every run of characters outside
// [a-z0-9] into one hyphen and trims hyphens from both ends. A name with no
// usable characters becomes "page".
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	if b.Len() == 0 {
		return "page"
	}
	return b.String()
}

// Reserved reports whether slug collides with a virtual tab and so cannot
// name a custom page.
func Reserved(slug string) bool {
	_, ok := virtualTabs[slug]
	return ok
}

// PageSlug is the base slug for a custom page called name. Names that slug
// to a virtual tab get a "-page" suffix; the store still appends -2, -3 on
// collision within a profile.
func PageSlug(name string) string {
	slug := Slugify(name)
	if Reserved(slug) {
		slug += "-page"
	}
	return slug
}
