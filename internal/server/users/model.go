package users

import "time"

type User struct {
	ID           string
	UserName     string
	PasswordHash []byte
	PublicKey    string
	LastIP       string
	LastPort     int
	LoginAt      *time.Time
	LogoutAt     *time.Time
	CreatedAt    time.Time
}
