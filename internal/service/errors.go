package service

import "errors"

// Errores de dominio del núcleo de autenticación. Los flujos los envuelven con %w
// y los handlers HTTP los traducen con errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrRevoked            = errors.New("token revoked")
	ErrAttemptsExhausted  = errors.New("two factor attempts exhausted")
	ErrInvalidCode        = errors.New("invalid two factor code")
	ErrProviderError      = errors.New("oauth provider error")
	ErrUnknownProvider    = errors.New("unknown oauth provider")
	ErrInvalidState       = errors.New("invalid oauth state")
	ErrEmailDispatch      = errors.New("email dispatch failed")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrConflict           = errors.New("identity linked to another user")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
)
