// Package atproto is a read-only HTTP client for the AT Protocol network:
// fetching a handle's recent posts, a reply-ratio sample, follower lists,
// batched DID resolution, and backlink-index amplification events. It holds
// no retry or backoff logic of its own — per spec, the pipeline decides
// retry policy; this package only surfaces HTTP and network errors as typed
// values the caller can inspect.
package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/charcoal/internal/models"
)

// HTTPError wraps a non-2xx response from either the public API or the
// backlink index, carrying the status code so callers can distinguish a
// rate limit (429) from a hard failure.
type HTTPError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("atproto: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsRateLimit reports whether err is, or wraps, an HTTPError with status 429.
func IsRateLimit(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusTooManyRequests
}

// Client is a thin wrapper over *http.Client scoped to the public AppView
// API and the Constellation backlink index, modeled structurally on a
// base-URL-plus-http.Client pattern: every method takes a context first and
// returns typed errors rather than retrying internally.
type Client struct {
	httpClient       *http.Client
	publicAPIURL     string
	constellationURL string
}

// Config configures a Client's base URLs and per-request timeout.
type Config struct {
	PublicAPIURL     string
	ConstellationURL string
	Timeout          time.Duration
}

// NewClient builds a Client from cfg. A zero Timeout defaults to 30s, the
// spec's stated per-request default.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:       &http.Client{Timeout: timeout},
		publicAPIURL:     strings.TrimRight(cfg.PublicAPIURL, "/"),
		constellationURL: strings.TrimRight(cfg.ConstellationURL, "/"),
	}
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", models.ErrProtocol, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", models.ErrTransientNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: rawURL}
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", models.ErrRateLimit, herr)
		}
		return fmt.Errorf("%w: %w", models.ErrProtocol, herr)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %v", models.ErrProtocol, rawURL, err)
	}
	return nil
}

// feedPostView mirrors the subset of the AppView's getAuthorFeed response
// shape that charcoal consumes.
type feedPostView struct {
	Post struct {
		URI    string `json:"uri"`
		Record struct {
			Text      string `json:"text"`
			CreatedAt string `json:"createdAt"`
			Reply     *struct {
				Root struct {
					URI string `json:"uri"`
				} `json:"root"`
			} `json:"reply,omitempty"`
			Embed *struct {
				Type string `json:"$type"`
			} `json:"embed,omitempty"`
		} `json:"record"`
		LikeCount   int `json:"likeCount"`
		RepostCount int `json:"repostCount"`
		QuoteCount  int `json:"quoteCount"`
	} `json:"post"`
	Reply *struct {
		Root struct {
			URI string `json:"uri"`
		} `json:"root"`
	} `json:"reply,omitempty"`
}

type getAuthorFeedResponse struct {
	Feed   []feedPostView `json:"feed"`
	Cursor string         `json:"cursor"`
}

// isQuoteEmbed reports whether the embed's $type marks a quote-post, either
// record-only (app.bsky.embed.record) or record-plus-media
// (app.bsky.embed.recordWithMedia).
func isQuoteEmbed(embedType string) bool {
	return embedType == "app.bsky.embed.record" || embedType == "app.bsky.embed.recordWithMedia"
}

// GetRecentPosts fetches up to limit of handle's recent posts, excluding
// replies, with each post's like/repost/quote counts and its is_quote flag.
func (c *Client) GetRecentPosts(ctx context.Context, handle string, limit int) ([]models.Post, error) {
	v := url.Values{}
	v.Set("actor", handle)
	v.Set("limit", strconv.Itoa(limit))
	v.Set("filter", "posts_no_replies")

	var resp getAuthorFeedResponse
	reqURL := fmt.Sprintf("%s/xrpc/app.bsky.feed.getAuthorFeed?%s", c.publicAPIURL, v.Encode())
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	posts := make([]models.Post, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		createdAt, _ := time.Parse(time.RFC3339, item.Post.Record.CreatedAt)
		isQuote := item.Post.Record.Embed != nil && isQuoteEmbed(item.Post.Record.Embed.Type)
		posts = append(posts, models.Post{
			URI:         item.Post.URI,
			Text:        item.Post.Record.Text,
			CreatedAt:   createdAt,
			LikeCount:   item.Post.LikeCount,
			RepostCount: item.Post.RepostCount,
			QuoteCount:  item.Post.QuoteCount,
			IsQuote:     isQuote,
		})
	}
	return posts, nil
}

// GetReplySample fetches a single page (up to 50) of handle's posts
// including replies, returning the reply count and total for the page.
func (c *Client) GetReplySample(ctx context.Context, handle string, pageLimit int) (models.ReplySample, error) {
	v := url.Values{}
	v.Set("actor", handle)
	v.Set("limit", strconv.Itoa(pageLimit))
	v.Set("filter", "posts_with_replies")

	var resp getAuthorFeedResponse
	reqURL := fmt.Sprintf("%s/xrpc/app.bsky.feed.getAuthorFeed?%s", c.publicAPIURL, v.Encode())
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return models.ReplySample{}, err
	}

	var replies int
	for _, item := range resp.Feed {
		if item.Post.Record.Reply != nil {
			replies++
		}
	}
	return models.ReplySample{ReplyCount: replies, Total: len(resp.Feed)}, nil
}

// Follower is a single entry in a paginated follower listing.
type Follower struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type getFollowersResponse struct {
	Followers []Follower `json:"followers"`
	Cursor    string     `json:"cursor"`
}

// GetFollowers fetches one page of followers of handle, starting at cursor
// (empty for the first page). Returns the page, the next cursor (empty if
// exhausted), and any error.
func (c *Client) GetFollowers(ctx context.Context, handle, cursor string, limit int) ([]Follower, string, error) {
	v := url.Values{}
	v.Set("actor", handle)
	v.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		v.Set("cursor", cursor)
	}

	var resp getFollowersResponse
	reqURL := fmt.Sprintf("%s/xrpc/app.bsky.graph.getFollowers?%s", c.publicAPIURL, v.Encode())
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, "", err
	}
	return resp.Followers, resp.Cursor, nil
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// ResolveHandle resolves handle to its current DID, the identifier storage
// keys every record by. Used once at startup to turn the configured
// protected handle into the DID the rest of the pipeline operates on.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	v := url.Values{}
	v.Set("actor", handle)

	var resp resolveHandleResponse
	reqURL := fmt.Sprintf("%s/xrpc/app.bsky.actor.getProfile?%s", c.publicAPIURL, v.Encode())
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return "", err
	}
	if resp.DID == "" {
		return "", fmt.Errorf("%w: getProfile for %q returned no did", models.ErrProtocol, handle)
	}
	return resp.DID, nil
}

// ResolveDIDs resolves a batch of DIDs to their current handles. Failures to
// resolve an individual DID are omitted from the result rather than failing
// the whole batch, consistent with the spec's "protocol errors skip the
// item" policy.
func (c *Client) ResolveDIDs(ctx context.Context, dids []string) (map[string]string, error) {
	handles := make(map[string]string, len(dids))
	for _, did := range dids {
		v := url.Values{}
		v.Set("actor", did)

		var resp struct {
			Handle string `json:"handle"`
		}
		reqURL := fmt.Sprintf("%s/xrpc/app.bsky.actor.getProfile?%s", c.publicAPIURL, v.Encode())
		if err := c.getJSON(ctx, reqURL, &resp); err != nil {
			continue
		}
		handles[did] = resp.Handle
	}
	return handles, nil
}

// BacklinkEvent is a single quote-or-repost backlink returned by the
// Constellation index for one of the protected user's post URIs.
type BacklinkEvent struct {
	EventType        models.AmplificationEventType
	OriginalPostURI  string
	AmplifierDID     string
	AmplifierPostURI string
	AmplifierText    string
	DetectedAt       time.Time
}

type constellationLink struct {
	DID        string `json:"did"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	Record     struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
}

type constellationLinksResponse struct {
	Links  []constellationLink `json:"links"`
	Cursor string              `json:"cursor"`
}

// GetBacklinks queries the Constellation backlink index for every quote or
// repost referencing postURI, starting after cursor. Returns the page of
// events and the next cursor.
func (c *Client) GetBacklinks(ctx context.Context, postURI, cursor string, limit int) ([]BacklinkEvent, string, error) {
	v := url.Values{}
	v.Set("target", postURI)
	v.Set("collection", "app.bsky.feed.repost,app.bsky.feed.post")
	v.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		v.Set("cursor", cursor)
	}

	var resp constellationLinksResponse
	reqURL := fmt.Sprintf("%s/links?%s", c.constellationURL, v.Encode())
	if err := c.getJSON(ctx, reqURL, &resp); err != nil {
		return nil, "", err
	}

	events := make([]BacklinkEvent, 0, len(resp.Links))
	for _, link := range resp.Links {
		eventType := models.EventRepost
		if link.Collection == "app.bsky.feed.post" {
			eventType = models.EventQuote
		}
		detectedAt, _ := time.Parse(time.RFC3339, link.Record.CreatedAt)
		events = append(events, BacklinkEvent{
			EventType:        eventType,
			OriginalPostURI:  postURI,
			AmplifierDID:     link.DID,
			AmplifierPostURI: fmt.Sprintf("at://%s/%s/%s", link.DID, link.Collection, link.RKey),
			AmplifierText:    link.Record.Text,
			DetectedAt:       detectedAt,
		})
	}
	return events, resp.Cursor, nil
}
