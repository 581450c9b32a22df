package annorepo

import (
	"encoding/base64"
	"net/url"
)

// EncodeCanvasURI kodiert eine Target-URI als Base64-Token für Custom-Query-Pfade.
func EncodeCanvasURI(uri string) string {
	return base64.StdEncoding.EncodeToString([]byte(uri))
}

// EncodeCanvasURIForPath ist EncodeCanvasURI plus Prozent-Kodierung (wie encodeURIComponent);
// AnnoRepo dekodiert serverseitig.
func EncodeCanvasURIForPath(uri string) string {
	return url.QueryEscape(EncodeCanvasURI(uri))
}
