package models

import "strings"

// Episode is a single playable unit inside a season. The raw catalog feed may
// populate any subset of the candidate source fields.
type Episode struct {
	Title string `json:"title"`
	Hls   string `json:"hls,omitempty"`
	File  string `json:"file,omitempty"`
	Embed string `json:"embed,omitempty"`
}

// Link derives the episode's playable link by taking the first non-empty
// candidate field in priority order (hls, file, embed). Protocol-relative
// links are upgraded to https.
func (e Episode) Link() string {
	for _, candidate := range []string{e.Hls, e.File, e.Embed} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return UpgradeProtocolRelative(trimmed)
		}
	}
	return ""
}

// Season groups episodes under a translation.
type Season struct {
	Title    string    `json:"title"`
	Episodes []Episode `json:"episodes"`
}

// Translation is a dub/subtitle track grouping, the top-level selectable unit.
type Translation struct {
	Title   string   `json:"title"`
	Seasons []Season `json:"seasons"`
}

// CatalogEntry is the player-facing slice of a catalog item: just the
// version tree needed to drive selection. Cards, ratings and the rest of the
// detail payload live outside the player core.
type CatalogEntry struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Translations []Translation `json:"translations"`
}

// UpgradeProtocolRelative turns "//host/path" links into "https://host/path".
func UpgradeProtocolRelative(link string) string {
	if strings.HasPrefix(link, "//") {
		return "https:" + link
	}
	return link
}
