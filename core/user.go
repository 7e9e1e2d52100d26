package core

// User is the identity a login provider resolves to. Subject is prefixed by
// the provider ("github:1234") unless the provider issues its own.
type User struct {
	Subject   string `json:"subject"`
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}
