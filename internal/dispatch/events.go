package dispatch

import (
	"fmt"

	"oceania.org/internal/fanout"
	"oceania.org/internal/post"
)

// Outbound event shapes. Status messages mirror the wording clients already
// key on.
const (
	msgRateLimited      = "Rate limited"
	msgNotAuthenticated = "Not authenticated"
	msgUserNotFound     = "User doesn't exist"
	msgInvalidPassword  = "Invalid password"
	msgAccountBanned    = "Account is banned"
	msgUsernameTaken    = "Username already taken"
	msgPostNotFound     = "Post not found"
	msgNotAuthorized    = "Not authorized"
	msgInternalError    = "Internal server error"
)

func statusEvent(message, username string) fanout.Event {
	return fanout.Event{Cmd: "status", Val: map[string]any{
		"message":  message,
		"username": username,
	}}
}

func authEvent(token, username string) fanout.Event {
	return fanout.Event{Cmd: "auth", Val: map[string]any{
		"token":    token,
		"username": username,
	}}
}

func welcomeEvent(username string) fanout.Event {
	return fanout.Event{Cmd: "welcome", Val: map[string]any{
		"message": fmt.Sprintf("Welcome aboard, %s!", username),
	}}
}

func postCreatedEvent(author, content, uid, attachment string) fanout.Event {
	return fanout.Event{Cmd: "rpost", Val: map[string]any{
		"author":       author,
		"post_content": content,
		"uid":          uid,
		"attachment":   attachment,
	}}
}

func postDeletedEvent(uid string) fanout.Event {
	return fanout.Event{Cmd: "rdel", Val: map[string]any{
		"uid": uid,
	}}
}

func postEditedEvent(uid, edit string) fanout.Event {
	return fanout.Event{Cmd: "redit", Val: map[string]any{
		"uid":  uid,
		"edit": edit,
	}}
}

func postsEvent(posts []post.Post) fanout.Event {
	if posts == nil {
		posts = []post.Post{}
	}
	return fanout.Event{Cmd: "posts", Val: map[string]any{
		"posts": posts,
	}}
}

func moderationEvent(message, original string) fanout.Event {
	return fanout.Event{Cmd: "moderr", Val: map[string]any{
		"message": message,
		"post":    original,
	}}
}

func bridgedEvent(author, content string) fanout.Event {
	return fanout.Event{Cmd: "bridged", Val: map[string]any{
		"author":       author,
		"post_content": content,
	}}
}
