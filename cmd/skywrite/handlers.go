package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

// record shapes for the small slice of the app.bsky lexicons this app
// touches
type postRecord struct {
	Type      string `json:"$type"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type recordEnvelope struct {
	URI   string          `json:"uri"`
	Value json.RawMessage `json:"value"`
}

type listRecordsResponse struct {
	Records []recordEnvelope `json:"records"`
	Cursor  string           `json:"cursor,omitempty"`
}

type profileRecord struct {
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

func (srv *Server) ClientMetadata(c echo.Context) error {
	meta := srv.config.ClientMetadata()
	if srv.config.IsConfidential() {
		uri := fmt.Sprintf("https://%s/.well-known/jwks.json", c.Request().Host)
		meta.JWKSURI = &uri
	}
	name := "skywrite"
	meta.ClientName = &name
	homepage := fmt.Sprintf("https://%s", c.Request().Host)
	meta.ClientURI = &homepage

	// serve nothing we wouldn't pass validation on ourselves
	if err := meta.Validate(srv.config.ClientID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "client metadata misconfigured")
	}
	return c.JSON(http.StatusOK, meta)
}

func (srv *Server) JWKS(c echo.Context) error {
	jwks, err := srv.config.PublicJWKS()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "rendering key set")
	}
	return c.JSON(http.StatusOK, jwks)
}

func (srv *Server) Homepage(c echo.Context) error {
	ctx := c.Request().Context()
	data := pongo2.Context{}

	cred, err := srv.authz.Authorize(c.Response(), c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session storage unavailable")
	}
	if cred == nil {
		return c.Render(http.StatusOK, "home.html", data)
	}
	data["did"] = cred.Subject

	client, err := srv.resumeAPI(*cred)
	if err != nil {
		slog.Warn("resuming API session failed", "did", cred.Subject, "err", err)
		return c.Render(http.StatusOK, "home.html", data)
	}

	// both fetches are display sugar; the page works without them
	var profileResp recordEnvelope
	err = client.Get(ctx, "com.atproto.repo.getRecord", map[string]any{
		"repo":       cred.Subject,
		"collection": "app.bsky.actor.profile",
		"rkey":       "self",
	}, &profileResp)
	if err == nil {
		var profile profileRecord
		if err := json.Unmarshal(profileResp.Value, &profile); err == nil {
			data["displayName"] = profile.DisplayName
		}
	}

	var listResp listRecordsResponse
	err = client.Get(ctx, "com.atproto.repo.listRecords", map[string]any{
		"repo":       cred.Subject,
		"collection": "app.bsky.feed.post",
		"limit":      10,
	}, &listResp)
	if err != nil {
		slog.Warn("listing posts failed", "did", cred.Subject, "err", err)
	} else {
		posts := []pongo2.Context{}
		for _, env := range listResp.Records {
			var post postRecord
			if err := json.Unmarshal(env.Value, &post); err != nil {
				continue
			}
			posts = append(posts, pongo2.Context{
				"uri":       env.URI,
				"text":      post.Text,
				"createdAt": post.CreatedAt,
			})
		}
		data["posts"] = posts
	}

	return c.Render(http.StatusOK, "home.html", data)
}

func (srv *Server) LoginForm(c echo.Context) error {
	return c.Render(http.StatusOK, "login.html", pongo2.Context{})
}

func (srv *Server) Login(c echo.Context) error {
	ctx := c.Request().Context()

	handle := c.FormValue("handle")
	if handle == "" {
		loginAttempts.WithLabelValues("bad_request").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "handle is required")
	}

	redirectURL, err := srv.coord.StartAuthFlow(ctx, handle)
	if err != nil {
		loginAttempts.WithLabelValues("error").Inc()
		slog.Warn("auth flow initiation failed", "handle", handle, "err", err)
		return c.Render(http.StatusInternalServerError, "error.html", pongo2.Context{
			"statusCode": http.StatusInternalServerError,
			"message":    fmt.Sprintf("could not start login for %q", handle),
			"retryURL":   "/login",
		})
	}

	loginAttempts.WithLabelValues("redirected").Inc()
	return c.Redirect(http.StatusFound, redirectURL)
}

func (srv *Server) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	cred, err := srv.coord.ProcessCallback(ctx, c.QueryParams())
	if err != nil {
		callbackResults.WithLabelValues("error").Inc()
		slog.Warn("callback processing failed", "err", err)
		return c.Render(http.StatusInternalServerError, "error.html", pongo2.Context{
			"statusCode": http.StatusInternalServerError,
			"message":    "login could not be completed",
			"retryURL":   "/login",
		})
	}

	if err := srv.binder.Bind(c.Response(), c.Request(), cred.Subject); err != nil {
		callbackResults.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, "binding browser session")
	}

	callbackResults.WithLabelValues("ok").Inc()
	slog.Info("login successful", "did", cred.Subject)
	return c.Redirect(http.StatusFound, "/")
}

// Logout unbinds the browser session. The stored credential is
// deliberately left in place: the next login for the same account
// overwrites it.
func (srv *Server) Logout(c echo.Context) error {
	if err := srv.binder.Unbind(c.Response(), c.Request()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "clearing browser session")
	}
	return c.Redirect(http.StatusFound, "/")
}

func (srv *Server) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	subject, ok := srv.binder.Subject(c.Request())
	if !ok {
		return c.Redirect(http.StatusFound, "/login")
	}

	if _, err := srv.coord.ForceRefresh(ctx, subject); err != nil {
		slog.Warn("token refresh failed", "did", subject, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "token refresh failed")
	}
	return c.Redirect(http.StatusFound, "/")
}

func (srv *Server) PostForm(c echo.Context) error {
	cred, err := srv.authz.Authorize(c.Response(), c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session storage unavailable")
	}
	if cred == nil {
		return c.Redirect(http.StatusFound, "/login")
	}
	return c.Render(http.StatusOK, "post.html", pongo2.Context{"did": cred.Subject})
}

func (srv *Server) Post(c echo.Context) error {
	ctx := c.Request().Context()

	cred, err := srv.authz.Authorize(c.Response(), c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session storage unavailable")
	}
	if cred == nil {
		return c.Redirect(http.StatusFound, "/login")
	}

	text := c.FormValue("text")
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	client, err := srv.resumeAPI(*cred)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "resuming API session")
	}

	body := map[string]any{
		"repo":       cred.Subject,
		"collection": "app.bsky.feed.post",
		"record": postRecord{
			Type:      "app.bsky.feed.post",
			Text:      text,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := client.Post(ctx, "com.atproto.repo.createRecord", body, nil); err != nil {
		postResults.WithLabelValues("error").Inc()
		slog.Warn("creating post failed", "did", cred.Subject, "err", err)
		return echo.NewHTTPError(http.StatusBadGateway, "creating post failed")
	}

	postResults.WithLabelValues("ok").Inc()
	return c.Redirect(http.StatusFound, "/")
}
