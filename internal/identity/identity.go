// Package identity authenticates the tools that upload certificates.
//
// It provides:
//   - TokenIssuer: issues and verifies HS256 ingest tokens
//   - RequireIngestToken: Gin middleware enforcing a Bearer ingest token
//
// The ledger itself signs nothing; these tokens only gate who may write.
package identity
