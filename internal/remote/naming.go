package remote

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Naming resolves wallet addresses to names. It implements ens.Resolver.
type Naming struct {
	c *client
}

// NewNaming creates a name resolver client for baseURL.
func NewNaming(baseURL string, timeout time.Duration) *Naming {
	return &Naming{c: newClient(baseURL, timeout)}
}

// Lookup returns the name registered for address. A 404 or an empty name
// is a definitive miss.
func (n *Naming) Lookup(ctx context.Context, address string) (string, bool, error) {
	res, err := n.c.get(ctx, "/v1/names/"+url.PathEscape(strings.ToLower(address)), nil)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	name := res.Get("name").String()
	return name, name != "", nil
}
