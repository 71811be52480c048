// Package content manages the video catalogue and audience profiles.
//
// An audience profile groups content by target audience and carries the
// fallback caption and hashtag pool used when the caption generator is
// unavailable. Carousels reference a single content item that is uploaded
// repeatedly each cycle.
package content
