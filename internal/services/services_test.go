package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentSafe-Chain/internal/governance"
)

func TestHTTPQuoteClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_in") != "0xaaa" {
			t.Fatalf("unexpected token_in: %s", r.URL.Query().Get("token_in"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Quote{AmountOut: "995", MinAmountOut: "990", PriceImpact: 12, Source: "dex"})
	}))
	defer srv.Close()

	client, err := NewHTTPQuoteClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, err := client.GetQuote(context.Background(), QuoteRequest{TokenIn: "0xaaa", TokenOut: "0xbbb", AmountIn: "1000", SlippageBPS: 50})
	if err != nil {
		t.Fatalf("get quote failed: %v", err)
	}
	if quote.AmountOut != "995" || quote.Source != "dex" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestFallbackQuoteClientDeterministic(t *testing.T) {
	t.Parallel()

	client := NewFallbackQuoteClient()
	req := QuoteRequest{TokenIn: "0xaaa", TokenOut: "0xbbb", AmountIn: "1000000", SlippageBPS: 100}

	first, err := client.GetQuote(context.Background(), req)
	if err != nil {
		t.Fatalf("fallback quote failed: %v", err)
	}
	if first.MinAmountOut != "990000" {
		t.Fatalf("expected 1%% slippage haircut, got %s", first.MinAmountOut)
	}

	second, _ := client.GetQuote(context.Background(), req)
	if *first != *second {
		t.Fatalf("fallback quote must be deterministic")
	}
}

func TestFallbackQuoteClientRejectsBadAmount(t *testing.T) {
	t.Parallel()

	client := NewFallbackQuoteClient()
	if _, err := client.GetQuote(context.Background(), QuoteRequest{AmountIn: "not-a-number"}); err == nil {
		t.Fatalf("expected error for malformed amount")
	}
}

func TestHTTPVoteClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req governance.CastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Space != "safedao.eth" || req.Choice != 1 {
			t.Fatalf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(governance.CastReceipt{TxHash: "0xfeed", Receipt: "ok"})
	}))
	defer srv.Close()

	client, err := NewHTTPVoteClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	receipt, err := client.Cast(context.Background(), governance.CastRequest{Space: "safedao.eth", ProposalID: "prop-1", Choice: 1})
	if err != nil {
		t.Fatalf("cast failed: %v", err)
	}
	if receipt.TxHash != "0xfeed" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestHTTPVoteClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "proposal closed", http.StatusConflict)
	}))
	defer srv.Close()

	client, err := NewHTTPVoteClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Cast(context.Background(), governance.CastRequest{Space: "s", ProposalID: "p"}); err == nil {
		t.Fatalf("expected error on conflict status")
	}
}

func TestFallbackVoteClientIdempotent(t *testing.T) {
	t.Parallel()

	client := NewFallbackVoteClient()
	req := governance.CastRequest{Space: "safedao.eth", ProposalID: "prop-1", Choice: 1}

	first, err := client.Cast(context.Background(), req)
	if err != nil {
		t.Fatalf("fallback cast failed: %v", err)
	}
	second, _ := client.Cast(context.Background(), req)
	if first.Receipt != second.Receipt {
		t.Fatalf("fallback receipt must be idempotent")
	}
	if !strings.HasPrefix(first.Receipt, "fallback:") {
		t.Fatalf("unexpected receipt: %s", first.Receipt)
	}

	if _, err := client.Cast(context.Background(), governance.CastRequest{}); err == nil {
		t.Fatalf("expected error for empty request")
	}
}
