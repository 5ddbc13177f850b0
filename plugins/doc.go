// Package plugins hosts compliance pack subpackages. It contains no runtime
// code; the architecture guard next to it keeps packs on the service's plugin
// surface (internal/core and pkg/domain) and away from storage and transport
// internals.
package plugins
