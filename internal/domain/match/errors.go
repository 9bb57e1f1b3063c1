package match

import "github.com/mwork/consent-engine/internal/pkg/apperr"

var (
	ErrSelfReference = apperr.ErrSelfReference
	ErrNotFound      = apperr.ErrNotFound
)
