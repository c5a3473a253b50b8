// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the canvas service.
//
// # Authentication Flow
//
// The canvas service sits behind the platform gateway, which terminates
// TLS and verifies the caller's JWT. What reaches this service is the
// already-verified identity-provider subject as a bearer token. The auth
// middleware resolves that subject to our internal user record and stores
// it in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	Auth middleware
//	   │
//	   ├─► Extract subject from "Authorization: Bearer <subject>"
//	   │
//	   ├─► resolver.Resolve(ctx, subject)
//	   │
//	   └─► Store *datatypes.User in context
//	           │
//	           ▼
//	       Handler (retrieves via CurrentUser)
//
// Local development uses StaticResolver, which authenticates every request
// as one fixed user and needs no identity infrastructure.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// ErrUnauthorized is returned by resolvers when the subject cannot be
// mapped to a user.
var ErrUnauthorized = errors.New("unauthorized")

// userKey is the Gin context key for the resolved user. A namespaced key
// prevents collisions with other context values.
const userKey = "webra_canvas_user"

// Resolver maps a verified identity-provider subject to an internal user.
type Resolver interface {
	// Resolve returns the user for subject, or ErrUnauthorized when no
	// account exists for it.
	Resolve(ctx context.Context, subject string) (*datatypes.User, error)
}

// StoreResolver resolves subjects against the user table.
type StoreResolver struct {
	Store store.Store
}

func (r *StoreResolver) Resolve(ctx context.Context, subject string) (*datatypes.User, error) {
	if subject == "" {
		return nil, ErrUnauthorized
	}
	user, err := r.Store.GetUserByExternalID(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// StaticResolver authenticates every request as one fixed user. Local
// development only; never wire it in production.
type StaticResolver struct {
	User *datatypes.User
}

func (r *StaticResolver) Resolve(ctx context.Context, subject string) (*datatypes.User, error) {
	return r.User, nil
}

// SetCurrentUser stores the resolved user in the Gin context. Called by the
// auth middleware; exposed for handler tests.
func SetCurrentUser(c *gin.Context, user *datatypes.User) {
	c.Set(userKey, user)
}

// CurrentUser retrieves the resolved user, or nil when the request never
// passed the auth middleware.
func CurrentUser(c *gin.Context) *datatypes.User {
	if v, exists := c.Get(userKey); exists {
		if user, ok := v.(*datatypes.User); ok {
			return user
		}
	}
	return nil
}

// Auth creates a Gin middleware that resolves the caller's identity.
//
// # Description
//
// Extracts the bearer subject from the Authorization header, resolves it
// through the provided Resolver, and stores the user for downstream
// handlers. An unresolvable subject aborts with 401; a resolver failure
// (store down) also aborts with 401 rather than leaking internals.
//
// # Inputs
//
//   - resolver: identity resolver. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: middleware ready for router.Use.
func Auth(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := extractBearerToken(c)

		user, err := resolver.Resolve(c.Request.Context(), subject)
		if err != nil || user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>", returning ""
// when the header is missing or malformed. The scheme is case-insensitive
// per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
