package catalog

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiVersion = "1.16.1"
	clientName = "tunesync"
)

// SubsonicConfig carries the connection parameters for a Subsonic
// compatible server.
type SubsonicConfig struct {
	BaseURL  string
	Username string
	Password string
	// RequestsPerSecond throttles API calls; <= 0 disables throttling.
	RequestsPerSecond float64
}

// Subsonic is a catalog Client backed by the Subsonic REST API.
// Authentication uses the salted-token scheme (API 1.13.0+): each
// request carries u, t=md5(password+salt), s, v, c and f parameters.
type Subsonic struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewSubsonic creates a Subsonic catalog client.
func NewSubsonic(cfg SubsonicConfig) (*Subsonic, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("subsonic: base URL is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("subsonic: username is required")
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Subsonic{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: 5 * time.Minute},
		limiter:  limiter,
	}, nil
}

// subsonicEnvelope is the outer JSON wrapper of every API response.
type subsonicEnvelope struct {
	Response subsonicResponse `json:"subsonic-response"`
}

type subsonicResponse struct {
	Status   string            `json:"status"`
	Error    *subsonicError    `json:"error,omitempty"`
	Album    *subsonicAlbum    `json:"album,omitempty"`
	Playlist *subsonicPlaylist `json:"playlist,omitempty"`
}

type subsonicError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subsonicAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Artist string         `json:"artist"`
	Songs  []subsonicSong `json:"song"`
}

type subsonicPlaylist struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Entries []subsonicSong `json:"entry"`
}

type subsonicSong struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Track  int    `json:"track"`
	Suffix string `json:"suffix"`
	Size   int64  `json:"size"`
}

// ListSelectedItems expands selected albums and playlists into songs,
// preserving group order and track order within each group.
func (s *Subsonic) ListSelectedItems(ctx context.Context, sel Selection) ([]Item, error) {
	var items []Item

	for _, id := range sel.AlbumIDs {
		album, err := s.getAlbum(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list album %s: %w", id, err)
		}
		for _, song := range album.Songs {
			items = append(items, songToItem(song, album.ID, album.Name, album.Artist, GroupAlbum))
		}
	}

	for _, id := range sel.PlaylistIDs {
		pl, err := s.getPlaylist(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list playlist %s: %w", id, err)
		}
		for i, song := range pl.Entries {
			item := songToItem(song, pl.ID, pl.Name, song.Artist, GroupPlaylist)
			// Playlists order by position, not by the song's album track.
			item.Track = i + 1
			items = append(items, item)
		}
	}

	return items, nil
}

// OpenStream fetches the raw bytes of one song. The server answers a
// download request for an unknown or forbidden id with a JSON error
// envelope instead of audio, so a JSON content type is inspected
// before handing the body to the caller.
func (s *Subsonic) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := s.get(ctx, "download", url.Values{"id": {id}})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusToErr(resp.StatusCode)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		defer resp.Body.Close()
		var env subsonicEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("decode download error: %w", ErrUnavailable)
		}
		return nil, envelopeErr(env.Response.Error)
	}

	return resp.Body, nil
}

// Ping verifies connectivity and credentials.
func (s *Subsonic) Ping(ctx context.Context) error {
	env, err := s.getJSON(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if env.Response.Status != "ok" {
		return envelopeErr(env.Response.Error)
	}
	return nil
}

func (s *Subsonic) getAlbum(ctx context.Context, id string) (*subsonicAlbum, error) {
	env, err := s.getJSON(ctx, "getAlbum", url.Values{"id": {id}})
	if err != nil {
		return nil, err
	}
	if env.Response.Status != "ok" {
		return nil, envelopeErr(env.Response.Error)
	}
	if env.Response.Album == nil {
		return nil, ErrNotFound
	}
	return env.Response.Album, nil
}

func (s *Subsonic) getPlaylist(ctx context.Context, id string) (*subsonicPlaylist, error) {
	env, err := s.getJSON(ctx, "getPlaylist", url.Values{"id": {id}})
	if err != nil {
		return nil, err
	}
	if env.Response.Status != "ok" {
		return nil, envelopeErr(env.Response.Error)
	}
	if env.Response.Playlist == nil {
		return nil, ErrNotFound
	}
	return env.Response.Playlist, nil
}

func (s *Subsonic) getJSON(ctx context.Context, endpoint string, params url.Values) (*subsonicEnvelope, error) {
	resp, err := s.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusToErr(resp.StatusCode)
	}

	var env subsonicEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, ErrUnavailable)
	}
	return &env, nil
}

func (s *Subsonic) get(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := s.authParams()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	reqURL := fmt.Sprintf("%s/rest/%s?%s", s.baseURL, endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", clientName+"/1.0")

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s request failed: %v: %w", endpoint, err, ErrUnavailable)
	}
	return resp, nil
}

// authParams builds the per-request authentication query: a fresh
// random salt and t = md5(password + salt).
func (s *Subsonic) authParams() url.Values {
	salt := randomSalt(16)
	token := fmt.Sprintf("%x", md5.Sum([]byte(s.password+salt)))

	return url.Values{
		"u": {s.username},
		"t": {token},
		"s": {salt},
		"v": {apiVersion},
		"c": {clientName},
		"f": {"json"},
	}
}

const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomSalt(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = saltAlphabet[rand.Intn(len(saltAlphabet))]
	}
	return string(b)
}

func songToItem(song subsonicSong, groupID, group, artist string, kind GroupKind) Item {
	if artist == "" {
		artist = "Unknown Artist"
	}
	suffix := song.Suffix
	if suffix == "" {
		suffix = "mp3"
	}
	return Item{
		ID:      song.ID,
		Title:   song.Title,
		Artist:  artist,
		GroupID: groupID,
		Group:   group,
		Kind:    kind,
		Track:   song.Track,
		Suffix:  suffix,
		Size:    song.Size,
	}
}

// envelopeErr maps Subsonic error codes onto the catalog sentinels.
// Codes 40/41/50 are credential/authorization failures, 70 is not
// found; anything else is treated as a server-side problem.
func envelopeErr(e *subsonicError) error {
	if e == nil {
		return fmt.Errorf("unknown subsonic error: %w", ErrUnavailable)
	}
	switch e.Code {
	case 40, 41, 50:
		return fmt.Errorf("subsonic error %d: %s: %w", e.Code, e.Message, ErrUnauthorized)
	case 70:
		return fmt.Errorf("subsonic error %d: %s: %w", e.Code, e.Message, ErrNotFound)
	default:
		return fmt.Errorf("subsonic error %d: %s: %w", e.Code, e.Message, ErrUnavailable)
	}
}

func statusToErr(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("http %d: %w", code, ErrUnauthorized)
	case code == http.StatusNotFound:
		return fmt.Errorf("http %d: %w", code, ErrNotFound)
	default:
		return fmt.Errorf("http %d: %w", code, ErrUnavailable)
	}
}
