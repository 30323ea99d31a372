package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound envelopes look like {"cmd":"direct","val":{"cmd":<sub>,"val":{...}}}.
// Anything that does not conform is a validation error and is dropped silently
// by the dispatcher (logged, no response, no audit).

var errMalformed = errors.New("dispatch: malformed envelope")

type envelope struct {
	Cmd string          `json:"cmd"`
	Val json.RawMessage `json:"val"`
}

type authPayload struct {
	Password string `json:"pswd"`
}

type genAccountPayload struct {
	Username string `json:"username"`
	Password string `json:"pswd"`
}

type postPayload struct {
	Type       string `json:"type"`
	Content    string `json:"p"`
	Attachment string `json:"attachment"`
	UID        string `json:"uid"`
	Edit       string `json:"edit"`
}

type retrievePayload struct {
	Type    string `json:"type"`
	Channel string `json:"c"`
	Offset  int    `json:"o"`
}

// command is a validated, typed inbound command.
type command struct {
	kind     string
	auth     authPayload
	gen      genAccountPayload
	post     postPayload
	retrieve retrievePayload
}

// Command kinds as used for dispatch, audit and metrics labels.
const (
	kindAuth       = "auth"
	kindGenAccount = "genaccount"
	kindPostSend   = "post.send"
	kindPostDelete = "post.delete"
	kindPostEdit   = "post.edit"
	kindRetrieve   = "retrieve.latest"
)

func parseCommand(raw []byte) (*command, error) {
	var outer envelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if outer.Cmd != "direct" {
		return nil, fmt.Errorf("%w: unexpected command %q", errMalformed, outer.Cmd)
	}
	var inner envelope
	if err := json.Unmarshal(outer.Val, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	cmd := &command{}
	switch inner.Cmd {
	case "auth":
		if err := json.Unmarshal(inner.Val, &cmd.auth); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if cmd.auth.Password == "" {
			return nil, fmt.Errorf("%w: auth requires pswd", errMalformed)
		}
		cmd.kind = kindAuth
	case "genaccount":
		if err := json.Unmarshal(inner.Val, &cmd.gen); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if cmd.gen.Username == "" || cmd.gen.Password == "" {
			return nil, fmt.Errorf("%w: genaccount requires username and pswd", errMalformed)
		}
		cmd.kind = kindGenAccount
	case "post":
		if err := json.Unmarshal(inner.Val, &cmd.post); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		switch cmd.post.Type {
		case "send":
			if cmd.post.Content == "" {
				return nil, fmt.Errorf("%w: send requires p", errMalformed)
			}
			cmd.kind = kindPostSend
		case "delete":
			if cmd.post.UID == "" {
				return nil, fmt.Errorf("%w: delete requires uid", errMalformed)
			}
			cmd.kind = kindPostDelete
		case "edit":
			if cmd.post.UID == "" || cmd.post.Edit == "" {
				return nil, fmt.Errorf("%w: edit requires uid and edit", errMalformed)
			}
			cmd.kind = kindPostEdit
		default:
			return nil, fmt.Errorf("%w: unknown post type %q", errMalformed, cmd.post.Type)
		}
	case "retrieve":
		if err := json.Unmarshal(inner.Val, &cmd.retrieve); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if cmd.retrieve.Type != "latest" {
			return nil, fmt.Errorf("%w: unknown retrieve type %q", errMalformed, cmd.retrieve.Type)
		}
		cmd.kind = kindRetrieve
	default:
		return nil, fmt.Errorf("%w: unknown subcommand %q", errMalformed, inner.Cmd)
	}
	return cmd, nil
}
