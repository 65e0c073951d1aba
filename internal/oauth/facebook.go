package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const facebookProfileURL = "https://graph.facebook.com/v18.0/me?fields=id,email,name"

type facebookMe struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NewFacebook construye el proveedor Facebook.
func NewFacebook(clientID, clientSecret, redirectURL string, opts ...Option) Provider {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoints.Facebook,
		Scopes:       []string{"email", "public_profile"},
	}
	return newProvider(Facebook, conf, facebookProfileURL, decodeFacebook, opts...)
}

// Graph API sólo devuelve emails ya verificados por Facebook.
func decodeFacebook(body []byte) (Profile, error) {
	var me facebookMe
	if err := decodeJSON(body, &me); err != nil {
		return Profile{}, err
	}
	return Profile{
		Subject:       me.ID,
		Email:         me.Email,
		EmailVerified: me.Email != "",
		Name:          me.Name,
	}, nil
}
