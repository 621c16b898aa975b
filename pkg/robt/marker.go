package robt

// RootMarker fingerprints the tail of a valid index file. original_source's
// marker.rs was not present in the retrieved pack (mod.rs only imports
// ROOT_MARKER from it), so this value is a reconstruction rather than a
// direct port; any fixed, versioned byte string serves the same purpose.
var RootMarker = []byte("robt-index-marker-v1")
