// Package access implements the Potion multi-role authentication and
// access-control core: token issuance, per-request role resolution, and
// permission evaluation for business owners, accountants, subcontractors,
// and admins.
//
// Request flow:
//   - A request carries a bearer token plus optional X-User-ID and
//     X-Project-ID context headers. RoleResolver verifies the token, loads
//     the identity and role records it references, and produces a
//     request-scoped Authorization value.
//   - Permission predicates (EnsureWriteAllowed, EnsureProjectScope) are
//     pure functions over that Authorization and the request shape; they
//     can be composed freely in middleware.
//
// Role lifecycle:
//   - RoleAssignments carry a RoleStatus persisted via Bun. The
//     RoleLifecycle state machine centralizes the invited → active →
//     deactivated graph, soft-delete semantics, and reactivation of
//     previously removed (user, role, owner) tuples.
//
// Tokens:
//   - TokenService mints and validates JWTs. Every token identifies exactly
//     one principal kind via its claim shape; minting never touches the
//     store, so issuance and validation are safe under concurrency.
package access
