//go:build !onnx

package main

import (
	"github.com/monikatyab/anaya-m2m/retrieval"
	"github.com/monikatyab/anaya-m2m/retrieval/embedder/mock"
)

// newEmbedder picks the embedding backend at build time. The default
// build uses the deterministic hash embedder so the binary runs with no
// native dependencies; build with -tags onnx for real sentence vectors.
func newEmbedder() (retrieval.Embedder, error) {
	return mock.New(), nil
}
