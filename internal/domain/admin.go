package domain

import "github.com/google/uuid"

// AdminAccount is the developer identity that owns leaderboards
type AdminAccount struct {
	ID uuid.UUID `json:"id"`
}

// GitHubUser is the external identity an admin can be linked to
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Identity is the answer to "who am I" for an authenticated admin
type Identity struct {
	Admin  AdminAccount `json:"admin"`
	GitHub *GitHubUser  `json:"github"`
}

// TokenReply carries a freshly issued capability token
type TokenReply struct {
	Token string `json:"token"`
}
