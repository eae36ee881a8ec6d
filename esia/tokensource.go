package esia

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource that serves the current access
// token and calls Refresh once it expires. The returned source serialises
// its own calls but shares the client session, so the client must not be
// used for other exchanges concurrently.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	var current *oauth2.Token
	if c.session.AccessToken != "" {
		current = c.session.OAuth2Token()
	}
	return oauth2.ReuseTokenSource(current, &refreshingSource{ctx: ctx, client: c})
}

type refreshingSource struct {
	ctx    context.Context
	client *Client
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	sess, err := s.client.Refresh(s.ctx)
	if err != nil {
		return nil, err
	}
	return sess.OAuth2Token(), nil
}
