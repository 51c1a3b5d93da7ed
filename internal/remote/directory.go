package remote

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/lensdm/internal/profiles"
	"github.com/tidwall/gjson"
)

// Directory reads profiles and follow edges from the social graph.
type Directory struct {
	c *client
}

// NewDirectory creates a directory client for baseURL.
func NewDirectory(baseURL string, timeout time.Duration) *Directory {
	return &Directory{c: newClient(baseURL, timeout)}
}

// FetchProfile returns the profile with id. IsFollowedByMe is left false;
// callers combine it with FetchFollowStatus.
func (d *Directory) FetchProfile(ctx context.Context, id string) (profiles.Profile, error) {
	res, err := d.c.get(ctx, "/v1/profiles/"+url.PathEscape(id), nil)
	if err != nil {
		return profiles.Profile{}, err
	}
	p := profiles.Profile{
		ID:      res.Get("id").String(),
		Handle:  res.Get("handle").String(),
		Name:    res.Get("name").String(),
		OwnedBy: strings.ToLower(res.Get("owned_by").String()),
	}
	if p.ID == "" {
		return profiles.Profile{}, errors.New("profile response carries no id")
	}
	return p, nil
}

// FetchFollowStatus reports, for each id, whether followerID follows it.
// Ids missing from the response are reported as not followed.
func (d *Directory) FetchFollowStatus(ctx context.Context, followerID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	res, err := d.c.get(ctx, "/v1/profiles/"+url.PathEscape(followerID)+"/following", q)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = false
	}
	res.Get("statuses").ForEach(func(_, s gjson.Result) bool {
		out[s.Get("profile_id").String()] = s.Get("following").Bool()
		return true
	})
	return out, nil
}
