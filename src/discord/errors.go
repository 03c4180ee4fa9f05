package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/stake-plus/reactionroles/src/logging"
	"github.com/stake-plus/reactionroles/src/roles"
)

// JSON error codes returned by the REST API.
const (
	codeUnknownChannel     = 10003
	codeUnknownGuild       = 10004
	codeUnknownMember      = 10007
	codeUnknownMessage     = 10008
	codeUnknownRole        = 10011
	codeUnknownEmoji       = 10014
	codeMissingAccess      = 50001
	codeMissingPermissions = 50013
)

// classify maps REST failures onto the engine's sentinel errors and wraps
// everything else with the operation name.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		switch restCode(rest) {
		case codeUnknownChannel, codeUnknownGuild, codeUnknownMember, codeUnknownMessage, codeUnknownRole, codeUnknownEmoji:
			return fmt.Errorf("discord: %s: %w: %w", op, roles.ErrNotFound, err)
		case codeMissingAccess, codeMissingPermissions:
			return fmt.Errorf("discord: %s: %w: %w", op, roles.ErrForbidden, err)
		}
		if rest.Response != nil {
			switch rest.Response.StatusCode {
			case http.StatusNotFound:
				return fmt.Errorf("discord: %s: %w: %w", op, roles.ErrNotFound, err)
			case http.StatusForbidden:
				return fmt.Errorf("discord: %s: %w: %w", op, roles.ErrForbidden, err)
			}
		}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("discord: %s: %w: %w", op, roles.ErrNotFound, err)
	}
	return fmt.Errorf("discord: %s: %w", op, err)
}

func restCode(rest *discordgo.RESTError) int {
	if rest.Message == nil {
		return 0
	}
	return rest.Message.Code
}

// transient reports whether a REST failure is worth retrying.
func transient(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	return logging.IsTransient(err)
}
