package roles

import (
	"context"
	"fmt"
	"strings"
)

// Authorizer decides whether a member may manage reaction roles.
type Authorizer struct {
	store    Store
	platform Platform
}

// NewAuthorizer builds an authorizer over the admin role store.
func NewAuthorizer(store Store, platform Platform) *Authorizer {
	return &Authorizer{store: store, platform: platform}
}

// IsAdmin reports whether the member holds one of the guild's admin roles.
func (a *Authorizer) IsAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	admins, err := a.store.AdminRoles(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("load admin roles: %w", err)
	}
	if len(admins) == 0 {
		return false, nil
	}
	memberRoles, err := a.platform.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("load member roles: %w", err)
	}
	for _, role := range memberRoles {
		if containsString(admins, role) {
			return true, nil
		}
	}
	return false, nil
}

const compositionSeparator = " // "

// ParseComposition reads "body // embed title // embed description" where any
// field may be "none". Missing trailing fields are omitted.
func ParseComposition(input string) OutgoingMessage {
	return compositionFromFields(strings.Split(input, compositionSeparator))
}

func compositionFromFields(fields []string) OutgoingMessage {
	field := func(i int) string {
		if i >= len(fields) {
			return ""
		}
		v := strings.TrimSpace(fields[i])
		if strings.EqualFold(v, "none") {
			return ""
		}
		return v
	}

	msg := OutgoingMessage{Content: field(0)}
	title, description := field(1), field(2)
	if title != "" || description != "" {
		msg.Embed = &Embed{Title: title, Description: description}
	}
	return msg
}
