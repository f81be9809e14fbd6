package assetstore

// AssetRef describes one remote asset as reported by the asset store.
type AssetRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	FolderID string `json:"folder_id"`
	Trashed  bool   `json:"trashed"`
}

// Change is one entry of the change feed. Removed changes carry no asset
// payload; additions and modifications include the current AssetRef.
type Change struct {
	AssetID string    `json:"asset_id"`
	Removed bool      `json:"removed"`
	Asset   *AssetRef `json:"asset,omitempty"`
}

// ChangeList is one page of the change feed. NextPageToken points at the
// following page within the same poll; NewStartToken is issued on the last
// page and becomes the cursor for the next poll.
type ChangeList struct {
	Changes       []Change `json:"changes"`
	NextPageToken string   `json:"next_page_token"`
	NewStartToken string   `json:"new_start_token"`
}

// assetPage is one page of a folder listing.
type assetPage struct {
	Assets        []AssetRef `json:"assets"`
	NextPageToken string     `json:"next_page_token"`
}

// startTokenResponse carries the initial change-feed cursor.
type startTokenResponse struct {
	StartToken string `json:"start_token"`
}
