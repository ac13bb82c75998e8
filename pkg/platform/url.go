package platform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Platform identifies the source of a shared link.
type Platform string

const (
	YouTube   Platform = "youtube"
	TikTok    Platform = "tiktok"
	Instagram Platform = "instagram"
	Web       Platform = "web"
)

// ErrInvalidURL is returned for links that are not absolute http(s) URLs.
var ErrInvalidURL = eris.New("platform: invalid url")

// trackingParams are dropped during canonicalization.
var trackingParams = map[string]bool{
	"si":      true,
	"igshid":  true,
	"igsh":    true,
	"fbclid":  true,
	"gclid":   true,
	"feature": true,
	"_r":      true,
	"_t":      true,
}

var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// Parse validates rawURL and returns it as a *url.URL with a lowercase host.
func Parse(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, eris.Wrap(ErrInvalidURL, "empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrap(ErrInvalidURL, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, eris.Wrapf(ErrInvalidURL, "unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
		return nil, eris.Wrapf(ErrInvalidURL, "missing host in %q", rawURL)
	}
	u.Host = strings.ToLower(u.Host)
	return u, nil
}

// Detect returns the platform a URL belongs to.
func Detect(rawURL string) (Platform, error) {
	u, err := Parse(rawURL)
	if err != nil {
		return "", err
	}
	return detectHost(u.Hostname()), nil
}

func detectHost(host string) Platform {
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	switch {
	case host == "youtu.be", host == "youtube.com", strings.HasSuffix(host, ".youtube.com"):
		return YouTube
	case host == "tiktok.com", strings.HasSuffix(host, ".tiktok.com"):
		return TikTok
	case host == "instagram.com", strings.HasSuffix(host, ".instagram.com"), host == "instagr.am":
		return Instagram
	default:
		return Web
	}
}

// Canonicalize rewrites rawURL into a stable form so that equivalent share
// links hash to the same cache key: https scheme, lowercase host, no
// fragment, no tracking parameters, sorted query, and one URL shape per
// YouTube video.
func Canonicalize(rawURL string) (string, error) {
	u, err := Parse(rawURL)
	if err != nil {
		return "", err
	}

	if detectHost(u.Hostname()) == YouTube {
		if id, short := youtubeID(u); id != "" {
			if short {
				return "https://www.youtube.com/shorts/" + id, nil
			}
			return "https://www.youtube.com/watch?v=" + id, nil
		}
	}

	u.Scheme = "https"
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") || trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}

// YouTubeID extracts the video ID from a YouTube URL. short reports whether
// the link is a Shorts URL.
func YouTubeID(rawURL string) (id string, short bool) {
	u, err := Parse(rawURL)
	if err != nil {
		return "", false
	}
	return youtubeID(u)
}

func youtubeID(u *url.URL) (string, bool) {
	host := strings.TrimPrefix(u.Hostname(), "www.")
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	short := false
	switch {
	case host == "youtu.be":
		id = segments[0]
	case len(segments) >= 2 && segments[0] == "shorts":
		id, short = segments[1], true
	case len(segments) >= 2 && (segments[0] == "embed" || segments[0] == "live" || segments[0] == "v"):
		id = segments[1]
	default:
		id = u.Query().Get("v")
	}
	if !youtubeIDPattern.MatchString(id) {
		return "", false
	}
	return id, short
}

var shortIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ShortVideoID extracts the post ID from a TikTok (/@user/video/<id>) or
// Instagram (/reel/<code>, /reels/<code>, /p/<code>, /tv/<code>) URL.
func ShortVideoID(p Platform, rawURL string) string {
	u, err := Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	for i := 0; i+1 < len(segments) && id == ""; i++ {
		switch p {
		case TikTok:
			if segments[i] == "video" {
				id = segments[i+1]
			}
		case Instagram:
			switch segments[i] {
			case "reel", "reels", "p", "tv":
				id = segments[i+1]
			}
		}
	}
	if !shortIDPattern.MatchString(id) {
		return ""
	}
	return id
}
