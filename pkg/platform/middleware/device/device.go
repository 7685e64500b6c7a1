// Package device classifies the client that sent a request from its
// User-Agent. Classes feed scan analytics only and never affect a verdict.
package device

import (
	"context"
	"strings"

	"github.com/mssola/useragent"

	"provenance/pkg/requestcontext"
)

// Class is a coarse client category.
type Class string

const (
	ClassMobile  Class = "mobile"
	ClassDesktop Class = "desktop"
	ClassBot     Class = "bot"
	ClassUnknown Class = "unknown"
)

// Classify maps a User-Agent header value to a Class.
func Classify(userAgent string) Class {
	if strings.TrimSpace(userAgent) == "" {
		return ClassUnknown
	}
	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return ClassBot
	case ua.Mobile():
		return ClassMobile
	}
	if name, _ := ua.Browser(); name == "" || ua.OS() == "" {
		return ClassUnknown
	}
	return ClassDesktop
}

// FromContext classifies the User-Agent recorded on ctx.
func FromContext(ctx context.Context) Class {
	return Classify(requestcontext.UserAgent(ctx))
}
