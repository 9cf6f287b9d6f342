package adapter

import (
	"context"

	"club-membership-gateway/internal/domain/model"
)

type Mailer interface {
	SendCredentials(ctx context.Context, msg model.CredentialMessage) error
}
