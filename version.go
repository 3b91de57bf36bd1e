package kustoingest

const version = "v0.4.2"

// Version returns the client version reported in the User-Agent header.
func Version() string {
	return version
}
