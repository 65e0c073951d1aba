package domain

import "time"

// User es la identidad local. Nunca se borra físicamente; DeletedAt marca el borrado lógico.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	DisplayName      string     `json:"display_name,omitempty"`
	PasswordHash     string     `json:"-"`
	EmailConfirmed   bool       `json:"email_confirmed"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	Version          int64      `json:"-"`
	DeletedAt        *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasPassword indica si el usuario puede autenticarse con credenciales locales.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// ExternalIdentity vincula una cuenta de un proveedor OAuth con un User.
type ExternalIdentity struct {
	Provider  string    `json:"provider"`
	Subject   string    `json:"-"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
