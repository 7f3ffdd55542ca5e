package types

// Speaker is the conversation role attributed to a turn.
type Speaker string

// Speaker constants, matching the backend's chat roles.
const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// Display names attached to user turns.
const (
	NameRealUser    = "RealUser"
	NameExampleUser = "ExampleUser"
)

// Image is an uploaded image referenced from a multimodal turn.
type Image struct {
	// Ref is where the image bytes were stored (file path or store key).
	Ref string `json:"ref"`
	// ContentType is the sniffed MIME type, e.g. "image/png".
	ContentType string `json:"content_type"`
	// Data holds the raw bytes sent to the backend.
	Data []byte `json:"-"`
}

// Turn is one message in the ordered conversation history.
type Turn struct {
	Speaker Speaker `json:"role"`
	Text    string  `json:"content"`
	// Image is set only on multimodal user turns.
	Image *Image `json:"image,omitempty"`
	// Name is the optional display name ("RealUser", "ExampleUser").
	Name string `json:"name,omitempty"`
}

// IsMultimodal returns true if the turn carries an image.
func (t Turn) IsMultimodal() bool {
	return t.Image != nil
}
