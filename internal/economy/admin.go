package economy

import (
	"context"
	"fmt"
)

// Give grants coins to a wallet through the normal overflow rules.
func (s *Service) Give(ctx context.Context, userID, amount int64) (BalanceResult, error) {
	if amount <= 0 || amount > MaxAdminGrant {
		return BalanceResult{}, fmt.Errorf("%w: grant must be between 1 and %d", ErrInvalidAmount, MaxAdminGrant)
	}
	res, err := s.updateBalance(ctx, userID, amount, 0, "admin_give")
	if err != nil {
		return BalanceResult{}, err
	}
	s.log.Info("admin grant", "user_id", userID, "amount", amount)
	return res, nil
}

// Reset rewrites the account with defaults. Accounts are never deleted.
func (s *Service) Reset(ctx context.Context, userID int64) (Account, error) {
	var out Account
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		fresh := DefaultAccount(userID, acct.CreatedAt)
		fresh.Revision = acct.Revision
		if err := s.save(ctx, &fresh); err != nil {
			return err
		}
		s.journal(ctx, userID, "admin_reset", Overflow{
			ActualWalletDelta: fresh.Wallet - acct.Wallet,
			ActualBankDelta:   fresh.Bank - acct.Bank,
		})
		out = fresh.Clone()
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("account reset", "user_id", userID)
	return out, nil
}
