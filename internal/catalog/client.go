// Package catalog queries the remote workshop map catalog: a GitLab-style
// JSON API exposing a project search endpoint and a per-project releases
// endpoint. All response parsing is defensive; missing or wrong-typed
// fields degrade to zero values rather than failing the response.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mapforge/mapforge/pkg/sanitize"
)

// StatusError reports a non-200 response from the catalog.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned %d", e.Code)
}

// Client talks to the catalog API
type Client struct {
	baseURL string
	client  *http.Client
	strip   *bluemonday.Policy
}

// New creates a catalog client for the given API base URL,
// e.g. "https://celab.jetfox.ovh/api/v4".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		strip: bluemonday.StrictPolicy(),
	}
}

// Search queries the project search endpoint for a keyword and page.
// An empty result set is a success with zero entries.
func (c *Client) Search(ctx context.Context, query string, page, perPage int) ([]Entry, error) {
	u := fmt.Sprintf("%s/projects/?search=%s&page=%d&per_page=%d",
		c.baseURL, url.QueryEscape(query), page, perPage)

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed catalog payload: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, obj := range raw {
		entries = append(entries, Entry{
			ID:          asID(obj["id"]),
			Name:        asString(obj["name"]),
			Description: c.StripHTML(asString(obj["description"])),
			Author:      asString(dig(obj, "namespace", "name")),
		})
	}
	return entries, nil
}

// Releases queries the releases endpoint for a project. It returns the
// parsed release list and the entry-level preview image URL (the first
// image asset found, newest release first). Asset links are classified
// by filename extension, not by position, because the remote schema's
// ordering is not contractual.
func (c *Client) Releases(ctx context.Context, id string) ([]Release, string, error) {
	u := fmt.Sprintf("%s/projects/%s/releases", c.baseURL, url.PathEscape(id))

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, "", err
	}

	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("malformed releases payload: %w", err)
	}

	var previewURL string
	releases := make([]Release, 0, len(raw))
	for _, obj := range raw {
		rel := Release{
			Name:        asString(obj["name"]),
			Tag:         asString(obj["tag_name"]),
			Description: c.StripHTML(asString(obj["description"])),
		}

		for _, link := range asSlice(dig(obj, "assets", "links")) {
			lm, ok := link.(map[string]any)
			if !ok {
				continue
			}
			linkURL := asString(lm["direct_asset_url"])
			if linkURL == "" {
				linkURL = asString(lm["url"])
			}
			if linkURL == "" {
				continue
			}

			name := asString(lm["name"])
			if name == "" {
				name = path.Base(linkURL)
			}

			switch classifyAsset(name, linkURL) {
			case assetImage:
				if rel.PreviewURL == "" {
					rel.PreviewURL = linkURL
				}
				if previewURL == "" {
					previewURL = linkURL
				}
			case assetArchive:
				if rel.ArchiveURL == "" {
					rel.ArchiveURL = linkURL
					rel.ArchiveName = sanitize.FileName(name)
				}
			}
		}

		releases = append(releases, rel)
	}
	return releases, previewURL, nil
}

// FetchBinary downloads a small binary asset (preview image) in full.
func (c *Client) FetchBinary(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// StripHTML removes all markup from a description, leaving plain text.
func (c *Client) StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.strip.Sanitize(s)))
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

type assetKind int

const (
	assetOther assetKind = iota
	assetImage
	assetArchive
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true,
}

var archiveExts = map[string]bool{
	".zip": true, ".7z": true, ".rar": true, ".gz": true, ".tar": true,
}

// classifyAsset decides whether an asset link is an image or an archive
// based on the filename extension of its name or URL path.
func classifyAsset(name, rawURL string) assetKind {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		if u, err := url.Parse(rawURL); err == nil {
			ext = strings.ToLower(path.Ext(u.Path))
		}
	}
	switch {
	case imageExts[ext]:
		return assetImage
	case archiveExts[ext]:
		return assetArchive
	default:
		return assetOther
	}
}

// SniffImageExt returns the image extension of a preview URL, falling
// back to ".jpg" when it cannot be determined.
func SniffImageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if imageExts[ext] {
		return ext
	}
	return ".jpg"
}

// --- defensive extraction helpers ---

// asString returns v as a string, or "" for any other shape.
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asID formats a numeric or string identifier as a string.
func asID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// asSlice returns v as a []any, or nil.
func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// dig walks nested objects by key, returning nil when any step is
// missing or not an object.
func dig(obj map[string]any, keys ...string) any {
	var cur any = obj
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}
