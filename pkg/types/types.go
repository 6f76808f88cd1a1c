package types

// Descriptor identifies a downloadable, loadable artifact. It is passed by
// value and never mutated once read from the catalog.
type Descriptor struct {
	// Stable identifier; also names the file on disk.
	// example: whisper-small
	ID string `json:"id" yaml:"id" toml:"id" example:"whisper-small"`
	// Human-friendly name.
	// example: Whisper (small)
	Name string `json:"name" yaml:"name" toml:"name" example:"Whisper (small)"`
	// Loader category (speech, language, vision, gesture).
	// example: speech
	Category Category `json:"category" yaml:"category" toml:"category" example:"speech"`
	// Remote source URL.
	// example: https://models.example.com/whisper-small.bin
	URL string `json:"url" yaml:"url" toml:"url" example:"https://models.example.com/whisper-small.bin"`
	// Expected hex-encoded SHA-256 of the file. Empty skips the check.
	SHA256 string `json:"sha256,omitempty" yaml:"sha256" toml:"sha256"`
	// Expected file size in bytes. Zero skips the check.
	// example: 244000000
	SizeBytes int64 `json:"size_bytes,omitempty" yaml:"size_bytes" toml:"size_bytes" example:"244000000"`
	// Estimated resident memory once loaded, in MB.
	// example: 300
	FootprintMB int `json:"footprint_mb" yaml:"footprint_mb" toml:"footprint_mb" example:"300"`
	// Priority class (optional, normal, high, critical).
	// example: normal
	Priority Priority `json:"priority" yaml:"priority" toml:"priority" example:"normal"`
}
