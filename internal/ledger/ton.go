package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/escrow-market/backend/internal/config"
	"github.com/escrow-market/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// TONLedger settles escrows against the TON network. Buyer deposits sit
// on the hot wallet (custodial model); LockFunds records custody of a
// received deposit, ReleaseFunds sends an on-chain transfer from the
// hot wallet to the recipient with the escrow id as comment.
type TONLedger struct {
	api    ton.APIClientWrapped
	wallet *wallet.Wallet
	log    *zap.Logger
}

func NewTONLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (*TONLedger, error) {
	api, err := connectToTON(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	words := strings.Fields(cfg.TONHotWalletSeed)
	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("init hot wallet: %w", err)
	}

	log.Info("TON ledger ready",
		zap.String("hot_wallet", w.WalletAddress().String()),
		zap.String("network", cfg.TONNetwork),
	)
	return &TONLedger{api: api, wallet: w, log: log}, nil
}

// connectToTON establishes a connection to the TON network.
// If LITE_SERVER_HOST + LITE_SERVER_KEY are set, connects to a specific
// lite server. Otherwise, auto-discovers lite servers from the global
// TON config based on TON_NETWORK.
func connectToTON(ctx context.Context, cfg *config.Config, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(cfg.TONNetwork) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(cfg.TONNetwork) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

func (l *TONLedger) ValidAddress(addr string) bool {
	_, err := address.ParseAddr(addr)
	return err == nil
}

// LockFunds verifies both parties' addresses and that the hot wallet
// holds at least the escrow amount, then records custody. The deposit
// itself arrives out of band (buyer transfer with the escrow memo,
// observed by the deposit indexer).
func (l *TONLedger) LockFunds(ctx context.Context, buyerAddr, sellerAddr string, amount decimal.Decimal, escrowID uuid.UUID) (string, error) {
	if _, err := address.ParseAddr(buyerAddr); err != nil {
		return "", fmt.Errorf("buyer address: %w", err)
	}
	if _, err := address.ParseAddr(sellerAddr); err != nil {
		return "", fmt.Errorf("seller address: %w", err)
	}

	coins, err := tlb.FromTON(amount.String())
	if err != nil {
		return "", fmt.Errorf("amount: %w", err)
	}

	block, err := l.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: masterchain info: %s", models.ErrLedgerUnavailable, err)
	}
	acc, err := l.api.GetAccount(ctx, block, l.wallet.WalletAddress())
	if err != nil {
		return "", fmt.Errorf("%w: hot wallet state: %s", models.ErrLedgerUnavailable, err)
	}
	if !acc.IsActive || acc.State.Balance.Nano().Cmp(coins.Nano()) < 0 {
		return "", fmt.Errorf("%w: hot wallet balance below escrow amount", models.ErrLedgerUnavailable)
	}

	ref := fmt.Sprintf("lock:%s:%d", escrowID, block.SeqNo)
	l.log.Info("funds locked",
		zap.String("escrow_id", escrowID.String()),
		zap.String("amount", amount.String()),
	)
	return ref, nil
}

// ReleaseFunds sends amount from the hot wallet to recipient, tagging
// the transfer with the escrow id so rail-side reconciliation can match
// it back. Waits for the transaction to be accepted.
func (l *TONLedger) ReleaseFunds(ctx context.Context, escrowID uuid.UUID, recipientAddr string, amount decimal.Decimal) (string, error) {
	to, err := address.ParseAddr(recipientAddr)
	if err != nil {
		return "", fmt.Errorf("recipient address: %w", err)
	}

	coins, err := tlb.FromTON(amount.String())
	if err != nil {
		return "", fmt.Errorf("amount: %w", err)
	}

	comment := fmt.Sprintf("escrow:%s", escrowID)
	tx, _, err := l.wallet.TransferWaitTransaction(ctx, to, coins, comment)
	if err != nil {
		return "", fmt.Errorf("%w: transfer: %s", models.ErrLedgerUnavailable, err)
	}

	ref := hex.EncodeToString(tx.Hash)
	l.log.Info("funds released",
		zap.String("escrow_id", escrowID.String()),
		zap.String("recipient", to.String()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", ref),
	)
	return ref, nil
}
