package auth

import (
	"context"

	"github.com/Kxd395/DoseTap-sub000/internal"
)

type Provider interface {
	ValidateTokenLocal(token string) (*internal.User, error)
	ValidateTokenRemote(ctx context.Context, token string) (*internal.User, error)
}
