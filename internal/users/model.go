package users

// RoleUser is the role assigned to every self-registered account.
const RoleUser = "user"

// User is a stored account. Username and Email are each unique.
type User struct {
	ID           int64  `json:"id"       db:"id"`
	Username     string `json:"username" db:"username"`
	Email        string `json:"email"    db:"email"`
	PasswordHash string `json:"-"        db:"password_hash"`
	Role         string `json:"role"     db:"role"`
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string
	ExpiresIn   int64 // seconds
	Subject     string
	Role        string
}
