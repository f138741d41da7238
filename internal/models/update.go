package models

// Update is one inbound message from the messaging backend.
type Update struct {
	ID       int    `json:"id"` // backend sequence number
	SenderID int64  `json:"sender_id"`
	Text     string `json:"text"`
}

// ArtifactKind selects how an artifact is delivered.
type ArtifactKind int

const (
	// ArtifactText is delivered as a regular message.
	ArtifactText ArtifactKind = iota
	// ArtifactPhoto is delivered as an image.
	ArtifactPhoto
	// ArtifactDocument is delivered as a file attachment.
	ArtifactDocument
)

// Artifact is an opaque rendered output (digest, chart, table) ready for delivery.
type Artifact struct {
	Kind    ArtifactKind
	Name    string // file name for photo/document kinds
	Caption string
	Text    string // body for ArtifactText
	Data    []byte // body for photo/document kinds
}
