//go:build !cgo

package embed

import "fmt"

// newFastEmbedProvider reports the local ONNX provider as unavailable in
// builds without cgo. The http provider works everywhere.
func newFastEmbedProvider(_ ProviderConfig) (Provider, error) {
	return nil, fmt.Errorf("%w: fastembed requires a cgo build, use the http provider", ErrProviderUnavailable)
}
