package catalog

// Entry represents one discovered workshop map awaiting enrichment
type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"` // HTML stripped
	Author      string `json:"author"`
	PreviewURL  string `json:"preview_url,omitempty"`

	Releases []Release `json:"releases,omitempty"`

	// Preview cache state, owned by the search pipeline
	PreviewDownloading bool   `json:"-"`
	PreviewLoaded      bool   `json:"-"`
	PreviewPath        string `json:"preview_path,omitempty"`
	PreviewExt         string `json:"preview_ext,omitempty"`
}

// Release represents one downloadable version of an entry.
// URL fields may be empty when the remote release carries no matching
// asset link; absence is tolerated, never an error.
type Release struct {
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	Description string `json:"description"`
	ArchiveURL  string `json:"archive_url,omitempty"`
	ArchiveName string `json:"archive_name,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"`
}
