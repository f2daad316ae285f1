package core

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Descriptor identifies targeted bytes: mediaType, digest and size are the
// verification contract for any stream claiming to be this descriptor.
type Descriptor = ocispec.Descriptor

// Manifest lists a config blob and ordered layer blobs for one platform.
type Manifest = ocispec.Manifest

// Index lists manifests, each optionally tagged with a platform.
type Index = ocispec.Index

// Platform selects an architecture/OS/variant within an Index.
type Platform = ocispec.Platform

// PlatformSelector reports whether an index entry's platform satisfies a
// resolve request. p is nil when the entry carries no platform.
type PlatformSelector func(p *Platform) bool

// Media types used throughout the layout and registry surfaces.
const (
	MediaTypeImageManifest = ocispec.MediaTypeImageManifest
	MediaTypeImageIndex    = ocispec.MediaTypeImageIndex
	MediaTypeImageConfig   = ocispec.MediaTypeImageConfig
	MediaTypeDescriptor    = "application/vnd.oci.descriptor.v1+json"
)

// AnnotationRefName is the annotation Layout uses to associate a reference
// string with a top-level manifest descriptor.
const AnnotationRefName = ocispec.AnnotationRefName

// LayoutVersion is the fixed imageLayoutVersion written to the oci-layout
// marker file.
const LayoutVersion = "1.0.0"

// LayoutMarker is the on-disk oci-layout JSON file.
type LayoutMarker struct {
	ImageLayoutVersion string `json:"imageLayoutVersion"`
}

// DescriptorEqual compares descriptors by content identity: mediaType,
// digest, size, urls, annotations and data, excluding platform.
func DescriptorEqual(a, b Descriptor) bool {
	if a.MediaType != b.MediaType || a.Digest != b.Digest || a.Size != b.Size || a.Data != nil != (b.Data != nil) {
		return false
	}
	if string(a.Data) != string(b.Data) {
		return false
	}
	if len(a.URLs) != len(b.URLs) {
		return false
	}
	for i := range a.URLs {
		if a.URLs[i] != b.URLs[i] {
			return false
		}
	}
	if len(a.Annotations) != len(b.Annotations) {
		return false
	}
	for k, v := range a.Annotations {
		if b.Annotations[k] != v {
			return false
		}
	}
	return true
}
