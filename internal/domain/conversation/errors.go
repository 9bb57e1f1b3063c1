package conversation

import "github.com/mwork/consent-engine/internal/pkg/apperr"

var (
	ErrSelfReference       = apperr.ErrSelfReference
	ErrBlockedRelationship = apperr.ErrBlockedRelationship
	ErrNotFound            = apperr.ErrNotFound
	ErrUnauthorized        = apperr.ErrUnauthorized
)
