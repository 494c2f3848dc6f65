package fingerprint

import (
	"context"
	"fmt"
)

// Photo returns the record and the current source bytes of a cached image.
// Only identities of the committed snapshot are served; anything else is
// ErrUnknownImage. Download handles come from the last source listing, which
// is refreshed when the identity is missing from it or its download fails.
func (c *Cache) Photo(ctx context.Context, identity string) (*ImageRecord, []byte, error) {
	rec := c.state().snap.Entries[identity]
	if rec == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownImage, identity)
	}

	if fetch := c.fetcher(identity); fetch != nil {
		data, err := fetch(ctx)
		if err == nil {
			return rec, data, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		c.log.WithError(err).WithField("identity", identity).Debug("stale download handle, relisting source")
	}

	if err := c.relist(ctx); err != nil {
		return nil, nil, err
	}
	fetch := c.fetcher(identity)
	if fetch == nil {
		return nil, nil, fmt.Errorf("%w: %s is no longer in the source", ErrUnknownImage, identity)
	}
	data, err := fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: fetching %s: %w", ErrSourceUnavailable, identity, err)
	}
	return rec, data, nil
}

// remember keeps the download handles of a listing.
func (c *Cache) remember(listing []SourceImage) {
	fetchers := make(map[string]func(context.Context) ([]byte, error), len(listing))
	for _, img := range listing {
		if img.Fetch != nil {
			fetchers[img.Identity] = img.Fetch
		}
	}
	c.fetchMu.Lock()
	c.fetchers = fetchers
	c.listings++
	c.fetchMu.Unlock()
}

func (c *Cache) fetcher(identity string) func(context.Context) ([]byte, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	return c.fetchers[identity]
}

// relist refreshes the download handles. Concurrent callers share one listing.
func (c *Cache) relist(ctx context.Context) error {
	c.fetchMu.Lock()
	before := c.listings
	c.fetchMu.Unlock()

	c.relistMu.Lock()
	defer c.relistMu.Unlock()

	c.fetchMu.Lock()
	refreshed := c.listings != before
	c.fetchMu.Unlock()
	if refreshed {
		return nil
	}

	listing, err := c.opts.Source.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: listing: %w", ErrSourceUnavailable, err)
	}
	c.remember(listing)
	return nil
}
