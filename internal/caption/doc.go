// Package caption composes upload captions from content templates and
// generated hashtags.
//
// Hashtags come from an external generator service; when that service is
// slow or down the client degrades to the audience profile's fallback
// pool so a run never stalls on caption material. Recently used tags can
// be passed in for avoidance so consecutive cycles don't repeat the same
// hashtag block.
package caption
