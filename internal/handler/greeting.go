package handler

import (
	"strings"

	"github.com/mssola/user_agent"
)

// Greeting builds the home page salutation from the User-Agent header
func Greeting(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Welcome to the shop!"
	}

	ua := user_agent.New(userAgent)
	if ua.Bot() {
		return "Hello, crawler. Nothing to buy here for you."
	}

	browser, _ := ua.Browser()
	if browser == "" {
		return "Welcome to the shop!"
	}

	device := "desktop"
	if ua.Mobile() {
		device = "mobile"
	}
	return "Welcome, " + browser + " " + device + " user!"
}
