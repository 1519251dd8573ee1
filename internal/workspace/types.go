package workspace

// Storage format versions for forward compatibility
const (
	ManifestVersion = 1
	RegistryVersion = 1
)

// Manifest is the per-workspace metadata stored in manifest.json.
type Manifest struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	// Icon is an optional emoji shown next to the name.
	Icon *string `json:"icon"`
	// AccentColor is an optional hex colour such as "#3B82F6".
	AccentColor *string `json:"accent_color"`
	Description *string `json:"description"`
	// AppVersion records which build created the workspace.
	AppVersion   *string `json:"app_version"`
	CreatedAt    string  `json:"created_at"`
	LastModified string  `json:"last_modified"`
}

// Entry is the cached projection of a manifest kept in the registry for
// fast listing. It is not re-synced when the manifest changes later.
type Entry struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Icon *string `json:"icon"`
}

// Registry is the installation-wide index stored in workspaces.json.
// Entry order is display order.
type Registry struct {
	Version    int     `json:"version"`
	Workspaces []Entry `json:"workspaces"`
	LastActive *string `json:"last_active"`
}

// NewRegistry returns an empty registry at the current format version.
func NewRegistry() *Registry {
	return &Registry{
		Version:    RegistryVersion,
		Workspaces: []Entry{},
	}
}

// Contains reports whether id has an entry.
func (r *Registry) Contains(id string) bool {
	for _, entry := range r.Workspaces {
		if entry.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand snapshots out of a lock.
func (r *Registry) Clone() *Registry {
	out := &Registry{
		Version:    r.Version,
		Workspaces: make([]Entry, len(r.Workspaces)),
	}
	for i, entry := range r.Workspaces {
		out.Workspaces[i] = Entry{ID: entry.ID, Name: entry.Name, Icon: cloneString(entry.Icon)}
	}
	out.LastActive = cloneString(r.LastActive)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
