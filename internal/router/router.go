package router

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/marketbot/backend/internal/auth"
	"github.com/marketbot/backend/internal/handlers"
	"github.com/marketbot/backend/internal/listings"
	"github.com/marketbot/backend/internal/middleware"
)

// Deps carries everything the router mounts.
type Deps struct {
	Auth     *auth.Handler
	Wallet   *handlers.WalletHandler
	Payments *handlers.PaymentHandler
	Escrow   *handlers.EscrowHandler
	Changes  *handlers.ChangeHandler
	Listings *listings.Handler

	Validator middleware.TokenValidator
	Admins    map[uuid.UUID]bool
}

// New returns an http.Handler that serves the API under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	// Public.
	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)
	mux.HandleFunc("GET "+base+"/listings", d.Listings.ListActive)

	// Payment provider callbacks authenticate with a shared token, not a JWT.
	mux.HandleFunc("POST "+base+"/payments/precheckout", d.Payments.Precheckout)
	mux.HandleFunc("POST "+base+"/payments/webhook", d.Payments.Webhook)

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.JWTAuth(d.Validator)(h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.JWTAuth(d.Validator)(middleware.AdminOnly(d.Admins)(h))
	}

	mux.Handle("GET "+base+"/wallet", authed(d.Wallet.GetWallet))
	mux.Handle("GET "+base+"/wallet/transactions", authed(d.Wallet.ListTransactions))
	mux.Handle("POST "+base+"/wallet/deposits", authed(d.Wallet.CreateDeposit))
	mux.Handle("POST "+base+"/wallet/{owner_id}/status", adminOnly(d.Wallet.SetAccountStatus))

	mux.Handle("POST "+base+"/escrows", authed(d.Escrow.CreateDeal))
	mux.Handle("GET "+base+"/escrows", authed(d.Escrow.ListDeals))
	mux.Handle("GET "+base+"/escrows/{id}", authed(d.Escrow.GetDeal))
	mux.Handle("GET "+base+"/escrows/{id}/stages", authed(d.Escrow.GetStages))
	mux.Handle("POST "+base+"/escrows/{id}/{action}", authed(d.Escrow.Transition))

	mux.Handle("POST "+base+"/listings", authed(d.Listings.Create))
	mux.Handle("POST "+base+"/listings/{id}/submit", authed(d.Listings.SubmitForPublication))

	mux.Handle("POST "+base+"/changes", authed(d.Changes.Submit))
	mux.Handle("GET "+base+"/changes", adminOnly(d.Changes.List))
	mux.Handle("POST "+base+"/changes/{id}/{action}", adminOnly(d.Changes.Resolve))

	return mux
}
