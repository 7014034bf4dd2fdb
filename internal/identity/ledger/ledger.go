// Package ledger notifies the on-chain allowlist contract about newly
// enrolled wallets.
package ledger

import (
	"context"
	"log/slog"
)

// Notifier submits and confirms the allowlist transaction for a wallet. The
// call blocks until the transaction is mined or fails; the orchestrator
// imposes no retry on top.
type Notifier interface {
	Notify(ctx context.Context, walletAddress string) error
}

// Noop is used when chain notification is explicitly disabled.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Notify(ctx context.Context, walletAddress string) error {
	if n.Logger != nil {
		n.Logger.DebugContext(ctx, "chain notification disabled, skipping allowlist",
			"wallet_address", walletAddress)
	}
	return nil
}
