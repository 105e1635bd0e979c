package portal

import (
	"context"
	"fmt"
	"net/url"
)

const (
	loginPath      = "/login"
	loginCheckPath = "/login_check"

	csrfSelector     = `input[name="_csrf_token"]`
	signedInSelector = "div#id-loading-screen-blackout"
)

// Login signs in with the configured credentials.
//
// The login page is fetched for its CSRF token, then the credentials are
// posted. The portal answers a successful login with its dashboard, which
// is recognised by the loading-screen element.
//
// Returns:
//   - error: ErrLoginFailed, ErrUnexpectedStatus, or a transport error
func (c *Client) Login(ctx context.Context) error {
	c.logger.Info("logging in", "username", c.username)

	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}

	form := url.Values{
		"_csrf_token": {token},
		"_username":   {c.username},
		"_password":   {c.password},
		"submit":      {"Log In"},
	}

	doc, err := c.postForm(ctx, loginCheckPath, form)
	if err != nil {
		return fmt.Errorf("posting credentials: %w", err)
	}
	if doc.Find(signedInSelector).Length() != 1 {
		return fmt.Errorf("%w: credentials rejected for %s", ErrLoginFailed, c.username)
	}

	c.logger.Info("logged in", "username", c.username)
	return nil
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	doc, err := c.getHTML(ctx, loginPath)
	if err != nil {
		return "", fmt.Errorf("fetching login page: %w", err)
	}

	inputs := doc.Find(csrfSelector)
	if inputs.Length() != 1 {
		return "", fmt.Errorf("%w: login page has %d csrf inputs", ErrLoginFailed, inputs.Length())
	}
	token, ok := inputs.Attr("value")
	if !ok {
		return "", fmt.Errorf("%w: csrf input has no value", ErrLoginFailed)
	}
	return token, nil
}
