package service

import (
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/pkg/domainerr"
	"tuitionmatch/pkg/sentinel"
)

func (s *SubmitSuite) TestValidateMagicLinkToken() {
	s.Run("forged token maps to not found", func() {
		s.mockCipher.EXPECT().Decrypt("garbage").Return("", errors.New("cipher: message authentication failed"))

		link, err := s.service.ValidateMagicLinkToken(s.ctx(), "garbage")
		s.Nil(link)
		s.True(domainerr.HasCode(err, domainerr.CodeNotFound))
	})

	s.Run("unknown token maps to not found", func() {
		s.mockCipher.EXPECT().Decrypt("tok-unknown").Return("Type=EnquiryRequest&TuitionPartnerId=1&Email=a@b.com&nonce", nil)
		s.mockStore.EXPECT().FindMagicLinkByToken(gomock.Any(), "tok-unknown").Return(nil, sentinel.ErrNotFound)

		link, err := s.service.ValidateMagicLinkToken(s.ctx(), "tok-unknown")
		s.Nil(link)
		s.True(domainerr.HasCode(err, domainerr.CodeNotFound))
	})

	s.Run("store failure maps to internal", func() {
		s.mockCipher.EXPECT().Decrypt("tok-x").Return("Type=EnquiryRequest&TuitionPartnerId=1&Email=a@b.com&nonce", nil)
		s.mockStore.EXPECT().FindMagicLinkByToken(gomock.Any(), "tok-x").Return(nil, errors.New("connection refused"))

		link, err := s.service.ValidateMagicLinkToken(s.ctx(), "tok-x")
		s.Nil(link)
		s.True(domainerr.HasCode(err, domainerr.CodeInternal))
	})

	s.Run("expired link maps to conflict", func() {
		expired := &models.MagicLink{
			Token:     "tok-old",
			Type:      models.MagicLinkTypeEnquiryRequest,
			ExpiresAt: testNow.Add(-time.Minute),
		}
		s.mockCipher.EXPECT().Decrypt("tok-old").Return("Type=EnquiryRequest&TuitionPartnerId=1&Email=a@b.com&nonce", nil)
		s.mockStore.EXPECT().FindMagicLinkByToken(gomock.Any(), "tok-old").Return(expired, nil)

		link, err := s.service.ValidateMagicLinkToken(s.ctx(), "tok-old")
		s.Nil(link)
		s.True(domainerr.HasCode(err, domainerr.CodeConflict))
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("valid link is returned", func() {
		valid := &models.MagicLink{
			Token:     "tok-live",
			Type:      models.MagicLinkTypeEnquirerViewAllResponses,
			ExpiresAt: testNow.Add(time.Hour),
		}
		s.mockCipher.EXPECT().Decrypt("tok-live").Return("Type=EnquirerViewAllResponses&Email=a@b.com&nonce", nil)
		s.mockStore.EXPECT().FindMagicLinkByToken(gomock.Any(), "tok-live").Return(valid, nil)

		link, err := s.service.ValidateMagicLinkToken(s.ctx(), "tok-live")
		s.NoError(err)
		s.Equal(valid, link)
	})

	s.Run("link expiring exactly now is still valid", func() {
		edge := &models.MagicLink{
			Token:     "tok-edge",
			Type:      models.MagicLinkTypeEnquiryRequest,
			ExpiresAt: testNow,
		}
		s.mockCipher.EXPECT().Decrypt("tok-edge").Return("Type=EnquiryRequest&TuitionPartnerId=1&Email=a@b.com&nonce", nil)
		s.mockStore.EXPECT().FindMagicLinkByToken(gomock.Any(), "tok-edge").Return(edge, nil)

		link, err := s.service.ValidateMagicLinkToken(s.ctx(), "tok-edge")
		s.NoError(err)
		s.NotNil(link)
	})
}
