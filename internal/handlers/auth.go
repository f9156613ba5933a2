package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"

// Profile is the Google account profile fetched after token exchange.
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// ProfileFetcher fetches the profile for a freshly exchanged token.
type ProfileFetcher interface {
	Fetch(ctx context.Context, token *oauth2.Token) (Profile, error)
}

// GoogleProfiles fetches profiles from the Google userinfo endpoint.
type GoogleProfiles struct {
	OAuth *oauth2.Config
	// URL overrides the userinfo endpoint; empty means Google's.
	URL string
}

func (g *GoogleProfiles) Fetch(ctx context.Context, token *oauth2.Token) (Profile, error) {
	url := g.URL
	if url == "" {
		url = googleUserinfoURL
	}

	res, err := g.OAuth.Client(ctx, token).Get(url)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("profile fetch returned status %d", res.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(res.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	if profile.Email == "" {
		return Profile{}, fmt.Errorf("profile has no email")
	}
	if profile.Name == "" {
		profile.Name = "Student"
	}
	return profile, nil
}

// loginHandler redirects to Google's consent screen. A phone query parameter
// (the signup path from chat) rides along in the OAuth state; its absence is
// an empty state, meaning "returning user, resolve by email later".
func loginHandler(oauth OAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := c.Query("phone")

		// The session is a backup channel in case the state is stripped.
		session := sessions.Default(c)
		if phone != "" {
			session.Set(sessionPhoneKey, phone)
		} else {
			session.Delete(sessionPhoneKey)
		}
		_ = session.Save()

		url := oauth.AuthCodeURL(phone,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "select_account"),
		)
		c.Redirect(http.StatusFound, url)
	}
}

// callbackHandler exchanges the code, fetches the profile, and decides which
// record to link: state phone first, session phone second, lookup-by-email
// last.
func callbackHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Query("code")
		if code == "" {
			c.String(http.StatusBadRequest, "Missing code.")
			return
		}

		ctx := c.Request.Context()
		token, err := d.OAuth.Exchange(ctx, code)
		if err != nil {
			d.Logger.Error("token exchange failed", "error", err.Error())
			c.Redirect(http.StatusSeeOther, d.Config.FrontendURL+"/?error=google_auth_failed")
			return
		}

		profile, err := d.Profiles.Fetch(ctx, token)
		if err != nil {
			d.Logger.Error("profile fetch failed", "error", err.Error())
			c.Redirect(http.StatusSeeOther, d.Config.FrontendURL+"/?error=google_auth_failed")
			return
		}

		phone := c.Query("state")
		if phone == "" {
			phone = sessionPhone(c)
		}
		if phone == "" {
			// Direct login: the email must already be linked to a record.
			user, found := d.Store.GetByEmail(profile.Email)
			if !found {
				c.Redirect(http.StatusSeeOther, d.Config.FrontendURL+"/?error=account_not_found")
				return
			}
			phone = user.Phone
		}

		bundle := drive.TokenBundle{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Expiry:       token.Expiry,
		}
		// Google only hands out a refresh token on the first consent; keep the
		// old one when this exchange came back without one.
		if bundle.RefreshToken == "" {
			if user, found := d.Store.Get(phone); found && user.GoogleToken != "" {
				if old, err := drive.DecodeTokenBundle(user.GoogleToken); err == nil {
					bundle.RefreshToken = old.RefreshToken
				}
			}
		}

		raw, err := json.Marshal(bundle)
		if err != nil {
			c.String(http.StatusInternalServerError, "Failed to encode token.")
			return
		}
		if err := d.Store.SetToken(phone, string(raw)); err != nil {
			d.Logger.Error("failed to store token", "phone", phone, "error", err.Error())
			c.String(http.StatusInternalServerError, "Failed to link account.")
			return
		}
		if err := d.Store.SetProfile(phone, profile.Email, profile.Name, profile.Picture); err != nil {
			d.Logger.Error("failed to store profile", "phone", phone, "error", err.Error())
		}

		session := sessions.Default(c)
		session.Set(sessionPhoneKey, phone)
		_ = session.Save()

		c.Redirect(http.StatusSeeOther, postLoginTarget(d, phone))
	}
}

// postLoginTarget picks the frontend page by setup progress: full users go to
// the dashboard, partial setups resume the wizard, and brand-new users must
// still send VERIFY from chat.
func postLoginTarget(d Deps, phone string) string {
	status := models.StatusNew
	if user, found := d.Store.Get(phone); found {
		status = user.Status
	}

	switch status {
	case models.StatusActive:
		return d.Config.FrontendURL + "/dashboard"
	case models.StatusConnected, models.StatusAwaitingSyllabus, models.StatusEditingList:
		return d.Config.FrontendURL + "/setup"
	default:
		return d.Config.FrontendURL + "/verify"
	}
}

func logoutHandler(frontendURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		session.Clear()
		_ = session.Save()
		c.Redirect(http.StatusFound, frontendURL+"/login")
	}
}
