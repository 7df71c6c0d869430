package ports

// Fingerprinter computes content fingerprints of files.
//
//go:generate mockgen -source=fingerprint.go -destination=mocks/mock_fingerprint.go -package=mocks
type Fingerprinter interface {
	// Fingerprint returns the content hash of the file at path.
	// It returns an empty string and no error when the file does not exist.
	Fingerprint(path string) (string, error)
}
