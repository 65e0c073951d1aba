package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewGoogle construye el proveedor Google con scopes openid, email y profile.
func NewGoogle(clientID, clientSecret, redirectURL string, opts ...Option) Provider {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoints.Google,
		Scopes:       []string{"openid", "email", "profile"},
	}
	return newProvider(Google, conf, googleUserInfoURL, decodeGoogle, opts...)
}

func decodeGoogle(body []byte) (Profile, error) {
	var info googleUserInfo
	if err := decodeJSON(body, &info); err != nil {
		return Profile{}, err
	}
	return Profile{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, nil
}
