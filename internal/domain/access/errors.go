package access

import "github.com/mwork/consent-engine/internal/pkg/apperr"

var (
	ErrSelfReference       = apperr.ErrSelfReference
	ErrBlockedRelationship = apperr.ErrBlockedRelationship
	ErrInvalidTransition   = apperr.ErrInvalidTransition
	ErrNotFound            = apperr.ErrNotFound
	ErrExpiredGrant        = apperr.ErrExpiredGrant
	ErrUnauthorized        = apperr.ErrUnauthorized
)
