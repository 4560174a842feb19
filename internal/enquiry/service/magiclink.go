package service

import (
	"context"
	"errors"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/pkg/domainerr"
	"tuitionmatch/pkg/requestcontext"
	"tuitionmatch/pkg/sentinel"
)

// ValidateMagicLinkToken resolves an opaque token to its magic link.
// Tokens that do not decrypt and tokens with no stored link both map to
// CodeNotFound so callers cannot distinguish forged from unknown; expired
// links map to CodeConflict wrapping sentinel.ErrExpired.
func (s *Service) ValidateMagicLinkToken(ctx context.Context, token string) (*models.MagicLink, error) {
	ctx, span := s.tracer.Start(ctx, "enquiry.ValidateMagicLinkToken")
	defer span.End()

	if _, err := s.cipher.Decrypt(token); err != nil {
		s.logger.WarnContext(ctx, "magic link token failed decryption")
		return nil, domainerr.New(domainerr.CodeNotFound, "unrecognised magic link token")
	}

	link, err := s.store.FindMagicLinkByToken(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, domainerr.New(domainerr.CodeNotFound, "unrecognised magic link token")
	}
	if err != nil {
		return nil, domainerr.Wrap(err, domainerr.CodeInternal, "failed to look up magic link")
	}

	if link.Expired(requestcontext.Now(ctx)) {
		s.logger.InfoContext(ctx, "magic link has expired",
			"type", link.Type, "expired_at", link.ExpiresAt)
		return nil, domainerr.Wrap(sentinel.ErrExpired, domainerr.CodeConflict, "magic link has expired")
	}
	return link, nil
}
