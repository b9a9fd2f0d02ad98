package storage

import (
	"context"
	"errors"

	"github.com/tradewinds/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not access the object.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload decides whether identity may download an object owned
// by ownerID. Receipts belong to the shopper who paid; staff and admin can
// pull any receipt for support cases.
func AuthorizeDownload(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	if allowAnonymous {
		return nil
	}
	if identity == nil {
		return ErrPermissionDenied
	}
	if ownerID != "" && identity.UID == ownerID {
		return nil
	}
	if identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		return nil
	}
	return ErrPermissionDenied
}

// AuthorizeDownloadFromContext extracts the identity from context and
// applies AuthorizeDownload.
func AuthorizeDownloadFromContext(ctx context.Context, ownerID string, allowAnonymous bool) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok && !allowAnonymous {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeDownload(identity, ownerID, allowAnonymous); err != nil {
		return nil, err
	}
	return identity, nil
}
