// Package dev wires the canned backend behind serve --dev: a scripted
// in-process runtime that answers every request, so the HTTP surface can be
// exercised with no model installed and no upstream running.
package dev

import (
	"time"

	"github.com/osaurus-ai/osaurus/pkg/inference/scripted"
)

// Backend returns the canned runtime. The per-chunk delay keeps streaming
// visible to a human watching curl.
func Backend() *scripted.Backend {
	return scripted.New(
		"Hello! ",
		"This is the osaurus dev backend; ",
		"every request gets this same canned answer. ",
		"Point the gateway at a real runtime ",
		"with the upstream config to serve a model.",
	).WithDelay(40 * time.Millisecond)
}
