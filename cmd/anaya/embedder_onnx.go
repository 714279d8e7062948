//go:build onnx

package main

import (
	"os"

	"github.com/monikatyab/anaya-m2m/retrieval"
	"github.com/monikatyab/anaya-m2m/retrieval/embedder/onnx"
)

// newEmbedder loads the local sentence-transformer. Model and tokenizer
// paths are host installs, so they come from the environment rather
// than the config file.
func newEmbedder() (retrieval.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     os.Getenv("ANAYA_ONNX_MODEL"),
		TokenizerPath: os.Getenv("ANAYA_ONNX_TOKENIZER"),
	})
}
