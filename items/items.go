// Package items wraps the vendor items platform HTTP API: OAuth2
// client-credentials authentication, per-publisher item listing and search,
// per-item metadata retrieval and file downloads.
package items

// Item is one entry of a publisher's item listing. Immutable once returned.
type Item struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Name   string `json:"name"`
}

// Known item lifecycle statuses, as reported by the platform. The listing
// may contain statuses not enumerated here; treat the field as opaque.
const (
	StatusActive  = "active"
	StatusPending = "pending"
	StatusDeleted = "deleted"
)

// FileRef points to one downloadable file attached to an item.
type FileRef struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	SHA1        string `json:"sha1"`
	ContentType string `json:"content_type"`
}

// CollectionEntry records membership of an item in a curated collection.
type CollectionEntry struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ItemMetadata is the full detail document for one item, as returned by the
// metadata endpoint. Field order matches the vendor wire format; the
// serializer relies on it for stable output.
type ItemMetadata struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	PublishedAt string            `json:"published_at,omitempty"`
	Category    string            `json:"category,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Hidden      bool              `json:"hidden"`
	Files       []FileRef         `json:"files,omitempty"`
	Collections []CollectionEntry `json:"collections,omitempty"`
}

// DisplayName returns the item title, falling back to the name and finally
// the id for items that never had one set.
func (m *ItemMetadata) DisplayName() string {
	switch {
	case m.Title != "":
		return m.Title
	case m.Name != "":
		return m.Name
	default:
		return m.ID
	}
}

// MainFile returns the first file reference or nil.
func (m *ItemMetadata) MainFile() *FileRef {
	if len(m.Files) == 0 {
		return nil
	}
	return &m.Files[0]
}
