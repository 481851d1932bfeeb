// Package auth is the authentication core of the traceability backend.
//
// Tokens:
//   - TokenCodec issues and decodes self-issued HS256 access and refresh
//     tokens carrying session_data (user, entity, member type, device).
//   - SSOVerifier checks tokens signed by the single sign on provider with
//     an asymmetric key loaded once at startup.
//   - Ledger records every issued token id and the revoked ones. Revocation
//     is permanent and can be fronted by a shared cache.
//
// Requests:
//   - Dispatcher selects a Strategy from the Auth-Type header. Every
//     strategy produces a Principal with the same SessionData shape which
//     RouteAuthenticator publishes in the request context.
//   - HandshakeService runs the nonce exchange that precedes device
//     registration on the SSO path.
//
// Lifecycle:
//   - Auther runs login, refresh with entity switch, logout, the password
//     gate, password reset and OTP checks.
//   - DeviceRegistry binds devices to users and applies the per entity
//     multi login policy. A denied login is reported with IsGranted false,
//     not with an error.
package auth
