package scraper

import (
	"strings"

	"resale-pricer/browser"
)

func browserOptions() browser.SessionOptions {
	return browser.SessionOptions{Locale: "ko-KR", ViewportWidth: 390, ViewportHeight: 844}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
