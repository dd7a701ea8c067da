package api

import (
	"context"

	"storyboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchCards(ctx context.Context, product, sprint string) (map[string]domain.Card, error)
	FetchCard(ctx context.Context, id string) (domain.Card, error)
	FetchSprints(ctx context.Context, product string) ([]string, error)
	FetchSettings(ctx context.Context) (domain.BoardSettings, error)
	FetchUserHash(ctx context.Context, username string) (string, error)
	LastChange(ctx context.Context) (domain.Marker, error)
	MoveCard(ctx context.Context, id, status string) (domain.Marker, error)
	UpdateCard(ctx context.Context, id string, fields map[string]string) (map[string]string, domain.Marker, error)
	AddCard(ctx context.Context, card domain.Card) (domain.Marker, error)
}

// UnknownCardError is returned by storage when a mutation targets a
// card id that does not exist. Handlers answer these with the move
// failure sentinel instead of a server fault.
type UnknownCardError interface {
	error
	UnknownCard()
}

// Authenticator is implemented by types able to extract usernames from
// auth material and to mint tokens at login.
type Authenticator interface {
	UserFromAuthHeader(string) (string, error)
	IssueToken(username string) (string, error)
}
