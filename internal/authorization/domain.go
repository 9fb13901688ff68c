package authorization

import (
	"context"
	"errors"
)

const (
	ObjectTokens       = "tokens"
	ObjectUsage        = "usage"
	ObjectEntitlements = "entitlements"
	ObjectAccessToken  = "access_token"
	ObjectModule       = "module"
)

const (
	ActionTokensCredit = "tokens.credit"
	ActionTokensReset  = "tokens.reset"

	// ActionUsageActAsAny lets a caller read or spend another user's balance.
	ActionUsageActAsAny = "usage.act_as_any"

	ActionEntitlementsSeed = "entitlements.seed"

	ActionAccessTokenIssue  = "access_token.issue"
	ActionAccessTokenRevoke = "access_token.revoke"
	ActionAccessTokenClear  = "access_token.clear"

	ActionModuleCreate = "module.create"
)

const (
	RoleUser  = "role:user"
	RoleAdmin = "role:admin"
)

type Service interface {
	// Authorize returns nil when the user's role grants action on object.
	Authorize(ctx context.Context, userID string, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
