// File: internal/usecase/account_uc.go
package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/domain/ports/repository"
	"club-membership-gateway/internal/infra/logging"
)

// Compile-time check
var _ AccountUseCase = (*accountUC)(nil)

type AccountUseCase interface {
	Register(ctx context.Context, email, displayName, phone string) (*model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
}

type accountUC struct {
	accounts repository.AccountRepository
	log      *zerolog.Logger
}

func NewAccountUseCase(accounts repository.AccountRepository, logger *zerolog.Logger) *accountUC {
	l := logger.With().Str("component", "AccountUseCase").Logger()
	return &accountUC{accounts: accounts, log: &l}
}

func (u *accountUC) Register(ctx context.Context, email, displayName, phone string) (*model.Account, error) {
	defer logging.TraceDuration(u.log, "AccountUseCase.Register")()
	acc, err := model.NewAccount("", email, displayName, phone)
	if err != nil {
		return nil, err
	}
	if err := u.accounts.Save(ctx, nil, acc); err != nil {
		return nil, err
	}
	u.log.Info().Str("account_id", acc.ID).Msg("account registered")
	return acc, nil
}

func (u *accountUC) Get(ctx context.Context, id string) (*model.Account, error) {
	return u.accounts.FindByID(ctx, nil, id)
}
