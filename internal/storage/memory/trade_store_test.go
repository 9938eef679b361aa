package memory

import (
	"context"
	"errors"
	"testing"

	"sui-sniper/internal/domain"
	"sui-sniper/internal/storage"
)

func TestTradeStore_InsertAndGet(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{
		BuyDigest:     "digest1",
		PoolID:        "0xpool1",
		DEX:           domain.DEXCetus,
		TokenType:     "0x2::meme::MEME",
		TokenAmount:   5000,
		InitialAmount: 1000,
		Status:        domain.TradeStatusOpen,
		OpenedAtMs:    1000,
	}

	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByDigest(ctx, "digest1")
	if err != nil {
		t.Fatalf("GetByDigest failed: %v", err)
	}

	if got.InitialAmount != 1000 {
		t.Errorf("InitialAmount mismatch: got %d, want %d", got.InitialAmount, 1000)
	}
}

func TestTradeStore_DuplicateKey(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{BuyDigest: "digest1", PoolID: "0xpool1", Status: domain.TradeStatusOpen}

	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, trade)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeStore_MarkClosed(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{BuyDigest: "digest1", PoolID: "0xpool1", Status: domain.TradeStatusOpen, OpenedAtMs: 1000}
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.MarkClosed(ctx, "digest1", "sell1", 1500, domain.ExitReasonTakeProfit, 2000)
	if err != nil {
		t.Fatalf("MarkClosed failed: %v", err)
	}

	got, err := store.GetByDigest(ctx, "digest1")
	if err != nil {
		t.Fatalf("GetByDigest failed: %v", err)
	}
	if got.Status != domain.TradeStatusClosed {
		t.Errorf("Expected status CLOSED, got %s", got.Status)
	}
	if got.FinalAmount != 1500 {
		t.Errorf("FinalAmount mismatch: got %d, want 1500", got.FinalAmount)
	}
	if got.ExitReason != domain.ExitReasonTakeProfit {
		t.Errorf("ExitReason mismatch: got %s", got.ExitReason)
	}

	// Closed trades no longer appear as open
	open, err := store.GetOpen(ctx)
	if err != nil {
		t.Fatalf("GetOpen failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no open trades, got %d", len(open))
	}
}

func TestTradeStore_MarkClosed_NotFound(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	err := store.MarkClosed(ctx, "missing", "sell1", 0, domain.ExitReasonStopLoss, 1000)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTradeStore_UpdateScamProbability(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{BuyDigest: "digest1", ScamProbability: 10, Status: domain.TradeStatusOpen}
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.UpdateScamProbability(ctx, "digest1", 85); err != nil {
		t.Fatalf("UpdateScamProbability failed: %v", err)
	}

	got, _ := store.GetByDigest(ctx, "digest1")
	if got.ScamProbability != 85 {
		t.Errorf("ScamProbability mismatch: got %f, want 85", got.ScamProbability)
	}
}

func TestTradeStore_GetOpen_Ordering(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trades := []*domain.Trade{
		{BuyDigest: "d3", Status: domain.TradeStatusOpen, OpenedAtMs: 3000},
		{BuyDigest: "d1", Status: domain.TradeStatusOpen, OpenedAtMs: 1000},
		{BuyDigest: "d2", Status: domain.TradeStatusClosed, OpenedAtMs: 2000},
	}
	for _, tr := range trades {
		if err := store.Insert(ctx, tr); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	open, err := store.GetOpen(ctx)
	if err != nil {
		t.Fatalf("GetOpen failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("Expected 2 open trades, got %d", len(open))
	}
	if open[0].BuyDigest != "d1" || open[1].BuyDigest != "d3" {
		t.Errorf("Expected ordering [d1 d3], got [%s %s]", open[0].BuyDigest, open[1].BuyDigest)
	}
}

func TestTradeStore_InsertReturnsCopy(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{BuyDigest: "digest1", TokenAmount: 100, Status: domain.TradeStatusOpen}
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Mutating the original must not affect the stored copy
	trade.TokenAmount = 999

	got, _ := store.GetByDigest(ctx, "digest1")
	if got.TokenAmount != 100 {
		t.Errorf("Store returned aliased data: got %d, want 100", got.TokenAmount)
	}
}
