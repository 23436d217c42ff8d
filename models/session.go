package models

// CatalogSelection is the viewer's current position in the version tree.
// Indices are always valid for the loaded entry or clamped to 0 on
// structural change.
type CatalogSelection struct {
	TranslationIndex int `json:"translationIndex"`
	SeasonIndex      int `json:"seasonIndex"`
	EpisodeIndex     int `json:"episodeIndex"`
}

// PersistedSession is the on-disk session document, keyed by catalog-entry
// identifier. Field names match the legacy client storage format.
type PersistedSession struct {
	TranslationIndex int        `json:"vIdx"`
	SeasonIndex      int        `json:"sIdx"`
	EpisodeIndex     int        `json:"currentEpIdx"`
	SourceMode       SourceMode `json:"tab"`
	AutoAdvance      bool       `json:"autonext"`
}
