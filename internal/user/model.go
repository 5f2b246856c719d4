package user

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Password    string `json:"-"`
}

// Name is the label shown to counterparties.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=50"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"max=120"`
	Role        string `json:"role" validate:"required"`
}

type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	ID           string `json:"id"`
	Username     string `json:"username"`
	Role         Role   `json:"role"`
	RedirectPath string `json:"redirect_path"`
}

// Claims is what ValidateToken hands back to the auth middleware.
type Claims struct {
	ID          string
	Username    string
	DisplayName string
	Role        Role
}
