package controller

import "context"

// UserInfo is the subset of the external user model the controller
// consumes: a numeric id (used in useradd -u <499+id>) and a username.
// Per spec §1, the user database model itself is out of scope — the
// controller only depends on this small interface, to be satisfied by the
// collaborating user-service.
type UserInfo struct {
	UUID     string
	ID       int
	Username string
}

// UserLookup resolves a user uuid to the fields the Lease Manager needs.
type UserLookup interface {
	GetUser(ctx context.Context, userUUID string) (*UserInfo, error)
}
