package walletbridge

import (
	"context"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/transaction"
	"github.com/bartossh/Settlementis/wallet"
)

// Local signs requests with keys held in the process. It never signs for the fee payer.
type Local struct {
	wallets map[address.Address]*wallet.Wallet
}

// NewLocal creates new Local signer.
func NewLocal(wallets ...*wallet.Wallet) *Local {
	l := &Local{wallets: make(map[address.Address]*wallet.Wallet, len(wallets))}
	for _, w := range wallets {
		l.wallets[w.Address()] = w
	}
	return l
}

// Sign signs the request transaction with every held key that is a required signer.
func (l *Local) Sign(ctx context.Context, req Request) (transaction.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return transaction.Transaction{}, err
	}
	tx := req.Transaction.Clone()
	feePayer, err := tx.Message.FeePayer()
	if err != nil {
		return transaction.Transaction{}, err
	}
	for _, s := range tx.Message.RequiredSigners() {
		w, ok := l.wallets[s]
		if !ok || s == feePayer {
			continue
		}
		if err := tx.Sign(w); err != nil {
			return transaction.Transaction{}, err
		}
	}
	return tx, nil
}
