package photoprism

// Photo is one entry of the photo search result.
type Photo struct {
	UID          string `json:"UID"`
	Title        string `json:"Title"`
	TakenAt      string `json:"TakenAt"`
	Type         string `json:"Type"`
	Hash         string `json:"Hash"`         // SHA1 of the primary file
	FileUID      string `json:"FileUID"`      // primary file UID
	FileName     string `json:"FileName"`     // Current filename
	OriginalName string `json:"OriginalName"` // Original filename when uploaded
	Width        int    `json:"Width"`
	Height       int    `json:"Height"`
	UpdatedAt    string `json:"UpdatedAt"`
}

// DisplayName returns the most human friendly name of the photo.
func (p Photo) DisplayName() string {
	switch {
	case p.OriginalName != "":
		return p.OriginalName
	case p.FileName != "":
		return p.FileName
	case p.Title != "":
		return p.Title
	}
	return p.UID
}
