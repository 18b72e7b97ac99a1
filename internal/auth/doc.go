// ABOUTME: Package auth resolves transport connections and API requests to portal identities
// ABOUTME: JWT verification, context propagation, and HTTP middleware

// Package auth is the boundary to the portal's account subsystem. It verifies
// tokens the portal issues and resolves them to an Identity (user id + role);
// account management itself lives outside this service.
package auth
