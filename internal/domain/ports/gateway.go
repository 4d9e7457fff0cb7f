package ports

// URLMinter turns a library path into an HTTP URL the speaker can fetch.
// Minting also marks the path as servable by the gateway.
type URLMinter interface {
	CreateFileURL(path string) string
}
