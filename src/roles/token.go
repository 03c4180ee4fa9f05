package roles

import (
	"regexp"
	"strings"
)

// Token is the identity of a reaction emoji. Unicode emoji are stored as the
// codepoint sequence, custom emoji as "name:id" (the form the REST API takes).
type Token string

var customEmojiPattern = regexp.MustCompile(`^<(a?):([A-Za-z0-9_~]+):([0-9]+)>$`)

// emojiPresentation is the variation selector clients add to some unicode
// emoji. Tokens are stored without it.
const emojiPresentation = "\uFE0F"

// ParseToken normalises user input or an event emoji into a Token.
// It accepts "<:name:id>", "<a:name:id>", "name:id" and unicode emoji.
func ParseToken(raw string) Token {
	raw = strings.TrimSpace(raw)
	if m := customEmojiPattern.FindStringSubmatch(raw); m != nil {
		return Token(m[2] + ":" + m[3])
	}
	return Token(strings.ReplaceAll(raw, emojiPresentation, ""))
}

// Custom reports whether the token refers to a custom guild emoji.
func (t Token) Custom() bool {
	name, id, ok := strings.Cut(string(t), ":")
	return ok && name != "" && isDigits(id)
}

// Mention renders the token the way it appears in message content.
func (t Token) Mention() string {
	if t.Custom() {
		return "<:" + string(t) + ">"
	}
	return string(t)
}

func (t Token) String() string { return string(t) }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	roleMentionPattern    = regexp.MustCompile(`<@&([0-9]+)>`)
	channelMentionPattern = regexp.MustCompile(`<#([0-9]+)>`)
	snowflakePattern      = regexp.MustCompile(`^[0-9]{15,21}$`)
)

// ChannelMentions extracts channel ids mentioned in content, in order.
func ChannelMentions(content string) []string {
	return submatches(channelMentionPattern, content)
}

// RoleMentions extracts role ids mentioned in content, in order.
func RoleMentions(content string) []string {
	return submatches(roleMentionPattern, content)
}

// ParseRoleArgument accepts a role mention or a raw role id.
func ParseRoleArgument(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if ids := RoleMentions(arg); len(ids) > 0 {
		return ids[0], true
	}
	if snowflakePattern.MatchString(arg) {
		return arg, true
	}
	return "", false
}

func submatches(re *regexp.Regexp, content string) []string {
	matches := re.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
