// Package manifest rewrites HLS playlists so every referenced URI routes back
// through the proxy instead of exposing the content origin.
package manifest

import (
	"regexp"
	"strings"
)

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// Tag lines that may carry a URI="..." attribute pointing at a sub-playlist.
const (
	streamInfTag       = "#EXT-X-STREAM-INF"
	iFrameStreamInfTag = "#EXT-X-I-FRAME-STREAM-INF"
)

// Rewrite routes every URI in the playlist through {proxyBase}/{sessionID}/.
// The transform is line-oriented and preserves line order and count. It is not
// idempotent: apply it exactly once per fetched manifest.
func Rewrite(text, sessionID, proxyBase string) string {
	prefix := proxyBase + "/" + sessionID + "/"
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, streamInfTag) || strings.HasPrefix(line, iFrameStreamInfTag) {
				lines[i] = uriAttr.ReplaceAllStringFunc(line, func(match string) string {
					value := uriAttr.FindStringSubmatch(match)[1]
					return `URI="` + prefix + value + `"`
				})
			}
			continue
		}
		// Bare URI: a media segment or sub-playlist reference.
		lines[i] = prefix + line
	}

	return strings.Join(lines, "\n")
}

// IsPlaylist reports whether a proxied resource should be treated as a
// playlist, by path extension or upstream content type.
func IsPlaylist(resourcePath, contentType string) bool {
	p := strings.ToLower(resourcePath)
	if strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl") || strings.Contains(ct, "x-mpegurl")
}
