package verification

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Action string

const (
	ActionHelp      Action = "help"
	ActionDeny      Action = "deny"
	ActionAssignA   Action = "assign_a"
	ActionAssignB   Action = "assign_b"
	ActionAssignSet Action = "assign_set"
)

const (
	tokenPrefix    = "vfy_"
	tokenDelimiter = ":"

	// MaxTokenLength is the platform's custom id limit.
	MaxTokenLength = 100

	// NoIndex marks tokens that carry no role set index.
	NoIndex = -1
)

var (
	ErrMalformedToken = errors.New("malformed verification token")
	ErrTokenTooLong   = fmt.Errorf("verification token exceeds %d characters", MaxTokenLength)
)

// arity is the number of fields following the tag.
var arity = map[Action]int{
	ActionHelp:      0,
	ActionDeny:      2,
	ActionAssignA:   2,
	ActionAssignB:   2,
	ActionAssignSet: 3,
}

// Token is the state a verification button carries round trip.
type Token struct {
	Action       Action
	RoleSetIndex int
	MessageID    string
	UserID       string
}

func HelpToken() Token {
	return Token{Action: ActionHelp, RoleSetIndex: NoIndex}
}

func DenyToken(messageID, userID string) Token {
	return Token{Action: ActionDeny, RoleSetIndex: NoIndex, MessageID: messageID, UserID: userID}
}

func AssignToken(action Action, index int, messageID, userID string) Token {
	if action != ActionAssignSet {
		index = NoIndex
	}
	return Token{Action: action, RoleSetIndex: index, MessageID: messageID, UserID: userID}
}

// IsToken reports whether customID belongs to this module.
func IsToken(customID string) bool {
	return strings.HasPrefix(customID, tokenPrefix)
}

func Encode(token Token) (string, error) {
	if _, ok := arity[token.Action]; !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrMalformedToken, token.Action)
	}

	parts := []string{tokenPrefix + string(token.Action)}
	switch token.Action {
	case ActionHelp:
		if token.RoleSetIndex != NoIndex || token.MessageID != "" || token.UserID != "" {
			return "", fmt.Errorf("%w: help carries no fields", ErrMalformedToken)
		}
	case ActionAssignSet:
		if token.RoleSetIndex < 0 {
			return "", fmt.Errorf("%w: role set index required", ErrMalformedToken)
		}
		parts = append(parts, strconv.Itoa(token.RoleSetIndex), token.MessageID, token.UserID)
	default:
		if token.RoleSetIndex != NoIndex {
			return "", fmt.Errorf("%w: %s carries no role set index", ErrMalformedToken, token.Action)
		}
		parts = append(parts, token.MessageID, token.UserID)
	}

	for _, field := range parts[1:] {
		if field == "" || strings.Contains(field, tokenDelimiter) {
			return "", fmt.Errorf("%w: invalid field %q", ErrMalformedToken, field)
		}
	}

	encoded := strings.Join(parts, tokenDelimiter)
	if len(encoded) > MaxTokenLength {
		return "", ErrTokenTooLong
	}
	return encoded, nil
}

func Decode(raw string) (Token, error) {
	if !IsToken(raw) || len(raw) > MaxTokenLength {
		return Token{}, ErrMalformedToken
	}
	parts := strings.Split(raw, tokenDelimiter)
	action := Action(strings.TrimPrefix(parts[0], tokenPrefix))
	want, ok := arity[action]
	if !ok {
		return Token{}, fmt.Errorf("%w: unknown action %q", ErrMalformedToken, action)
	}
	fields := parts[1:]
	if len(fields) != want {
		return Token{}, fmt.Errorf("%w: %s expects %d fields, got %d", ErrMalformedToken, action, want, len(fields))
	}
	for _, field := range fields {
		if field == "" {
			return Token{}, fmt.Errorf("%w: empty field", ErrMalformedToken)
		}
	}

	token := Token{Action: action, RoleSetIndex: NoIndex}
	switch action {
	case ActionHelp:
	case ActionAssignSet:
		index, err := strconv.Atoi(fields[0])
		if err != nil || index < 0 {
			return Token{}, fmt.Errorf("%w: bad role set index %q", ErrMalformedToken, fields[0])
		}
		token.RoleSetIndex = index
		token.MessageID = fields[1]
		token.UserID = fields[2]
	default:
		token.MessageID = fields[0]
		token.UserID = fields[1]
	}
	return token, nil
}
