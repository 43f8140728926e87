package domain

import "github.com/pkg/errors"

// Artifact is the finished meme's stored metadata, keyed by meme id (the
// job id in the single-panel flow). PublicURL duplicates ImageURL; older
// clients read one or the other.
type Artifact struct {
	ImageURL  string  `json:"imageUrl"`
	PublicURL string  `json:"publicUrl"`
	Type      string  `json:"type"`
	MemeID    string  `json:"memeId"`
	Timing    *Timing `json:"timing,omitempty"`
}

// Validate enforces the required fields. The store applies this on both
// write and read, so a record that lost a required field is treated as
// absent rather than served half-empty.
func (a Artifact) Validate() error {
	if a.ImageURL == "" {
		return errors.New("artifact missing imageUrl")
	}
	if a.Type == "" {
		return errors.New("artifact missing type")
	}
	if a.MemeID == "" {
		return errors.New("artifact missing memeId")
	}
	return nil
}
